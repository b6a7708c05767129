package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// AdminTokenMiddleware authenticates operator requests using the
// X-Admin-Token header against the configured static token. An empty
// configured token disables the admin surface entirely.
func AdminTokenMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "admin surface disabled"})
			}
			got := strings.TrimSpace(c.Request().Header.Get("X-Admin-Token"))
			if got == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing admin token"})
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid admin token"})
			}
			return next(c)
		}
	}
}
