package client

import (
	"context"
	"errors"
	"net/http"
)

var errBodyNotReplayable = errors.New("request body cannot be replayed: set GetBody")

// Transport attaches the current access token to each request and routes
// it through a Coordinator. Requests with a body are replayed through
// GetBody, which http.NewRequest sets for the common body types.
type Transport struct {
	Coordinator *Coordinator
	// Base performs the requests. Nil means http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	calls := 0
	return t.Coordinator.Do(req.Context(), func(ctx context.Context, token string) (*http.Response, error) {
		calls++
		r := req.Clone(ctx)
		if calls > 1 && req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return nil, errBodyNotReplayable
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return base.RoundTrip(r)
	})
}

// NewHTTPClient returns an http.Client whose requests carry the
// coordinator's tokens and survive one access-token expiry.
func NewHTTPClient(c *Coordinator, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Coordinator: c, Base: base}}
}
