package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lumehealth/lume-sync/internal/model"
)

// Error is a typed relay failure. Retryable covers timeouts, connection
// errors and 5xx; everything 4xx-class is permanent and must not be retried.
type Error struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: status=%d", e.Op, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a recoverable relay failure.
func IsRetryable(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// Gateway is the network boundary that durably persists one event's payload
// on the backend. The backend contract is idempotent upsert by entity
// identity, so repeated delivery of the same change is safe.
type Gateway interface {
	// Create POSTs a new entity and returns the backend-assigned id.
	Create(ctx context.Context, collection string, payload []byte) (string, error)
	// Update PUTs an entity the backend already knows by remoteID.
	Update(ctx context.Context, collection, remoteID string, payload []byte) error

	// FetchProfile returns the remote profile copy, or nil when the backend
	// has none (expected for brand-new accounts, not an error).
	FetchProfile(ctx context.Context, userID int64) (*model.Profile, error)
	PushProfile(ctx context.Context, p *model.Profile) error
}

type HTTPGateway struct {
	baseURL string
	client  *http.Client
	br      *MicroBreaker
}

func NewHTTPGateway(baseURL string, timeoutMs, failThreshold, openForMs int) *HTTPGateway {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:      NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

var _ Gateway = (*HTTPGateway)(nil)

type createResp struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) Create(ctx context.Context, collection string, payload []byte) (string, error) {
	body, err := g.do(ctx, http.MethodPost, "/v1/"+collection, payload)
	if err != nil {
		return "", err
	}

	var cr createResp
	if err := json.Unmarshal(body, &cr); err != nil || cr.ID == "" {
		// a 2xx without an id: the entity cannot be marked synced
		return "", &Error{Op: "create " + collection, Retryable: false, Err: fmt.Errorf("response missing id")}
	}
	return cr.ID, nil
}

func (g *HTTPGateway) Update(ctx context.Context, collection, remoteID string, payload []byte) error {
	_, err := g.do(ctx, http.MethodPut, "/v1/"+collection+"/"+remoteID, payload)
	return err
}

func (g *HTTPGateway) FetchProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	body, err := g.do(ctx, http.MethodGet, "/v1/profiles/"+strconv.FormatInt(userID, 10), nil)
	if err != nil {
		var ge *Error
		if errors.As(err, &ge) && ge.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var p model.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode remote profile: %w", err)
	}
	p.UserID = userID
	return &p, nil
}

func (g *HTTPGateway) PushProfile(ctx context.Context, p *model.Profile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = g.do(ctx, http.MethodPut, "/v1/profiles/"+strconv.FormatInt(p.UserID, 10), payload)
	return err
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	op := method + " " + path

	if !g.br.TryAcquire() {
		return nil, &Error{Op: op, Retryable: true, Err: fmt.Errorf("circuit open")}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		g.br.OnFailure()
		return nil, &Error{Op: op, Retryable: false, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := g.client.Do(req)
	if err != nil {
		g.br.OnFailure()
		// timeouts and connection errors are transient
		return nil, &Error{Op: op, Retryable: true, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		g.br.OnFailure()
		return nil, &Error{Op: op, Retryable: true, Err: err}
	}

	switch {
	case res.StatusCode/100 == 2:
		g.br.OnSuccess()
		return body, nil
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode/100 == 5:
		g.br.OnFailure()
		return nil, &Error{Op: op, StatusCode: res.StatusCode, Retryable: true}
	default:
		// 4xx validation-class: the payload will never be accepted
		g.br.OnSuccess()
		return nil, &Error{Op: op, StatusCode: res.StatusCode, Retryable: false}
	}
}
