package guard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dimaakimm/hseai-session/internal/credential"
	"github.com/google/uuid"
)

// RequestIDHeader correlates a protected call across both attempts
const RequestIDHeader = "X-Request-ID"

// Transport is an http.RoundTripper that routes every request through a
// Guard and sets the bearer header.
type Transport struct {
	Guard *Guard
	// Base performs the attempts. http.DefaultTransport when nil.
	Base http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper. The request body is replayed on
// retry, from GetBody when set and from a buffered copy otherwise.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := replayable(req)
	if err != nil {
		return nil, err
	}

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return t.Guard.Execute(req.Context(), func(ctx context.Context, cred credential.AccessCredential) (*http.Response, error) {
		r := req.Clone(ctx)
		if getBody != nil {
			body, err := getBody()
			if err != nil {
				return nil, fmt.Errorf("replaying request body: %w", err)
			}
			r.Body = body
		}
		cred.OAuth2().SetAuthHeader(r)
		r.Header.Set(RequestIDHeader, requestID)
		return t.base().RoundTrip(r)
	})
}

func replayable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// Client returns an HTTP client whose requests go through the guard.
func (g *Guard) Client(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Guard: g, Base: base}}
}
