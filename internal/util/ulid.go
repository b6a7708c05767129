package util

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string for entity and event ids. ULIDs sort by
// creation time, which keeps the FIFO tie-break in the outbox stable.
func New() string {
	return ulid.Make().String()
}
