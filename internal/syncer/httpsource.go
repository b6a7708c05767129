package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lumehealth/lume-sync/internal/model"
)

// HTTPSource queries a health-data bridge over HTTP:
// GET {base}/samples?source=...&from=...&to=... returning a JSON array of
// raw samples. The platform health API itself is opaque to this core; the
// bridge is whatever exposes its query primitive.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ ExternalSource = (*HTTPSource)(nil)

func (s *HTTPSource) Query(ctx context.Context, sourceID model.SourceID, from, to time.Time) ([]RawSample, error) {
	q := url.Values{}
	q.Set("source", sourceID.String())
	q.Set("from", from.UTC().Format(time.RFC3339Nano))
	q.Set("to", to.UTC().Format(time.RFC3339Nano))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/samples?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("bridge query source=%s status=%d", sourceID, res.StatusCode)
	}

	var out []RawSample
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode bridge response: %w", err)
	}
	return out, nil
}

// QueryFunc adapts a function to ExternalSource.
type QueryFunc func(ctx context.Context, sourceID model.SourceID, from, to time.Time) ([]RawSample, error)

func (f QueryFunc) Query(ctx context.Context, sourceID model.SourceID, from, to time.Time) ([]RawSample, error) {
	return f(ctx, sourceID, from, to)
}
