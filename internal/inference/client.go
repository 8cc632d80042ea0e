// Package inference forwards raw JSON payloads to the protected ML backends
// through the request guard.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/guard"
	"github.com/dimaakimm/hseai-session/internal/ioutil"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/metrics"
)

var (
	// ErrUnknownBackend is returned for a backend name that is not configured
	ErrUnknownBackend = errors.New("unknown inference backend")

	// ErrInvalidPayload is returned before any call when the payload is not JSON
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

const (
	BackendClassifier = "classifier"
	BackendRAG        = "rag"

	maxResponseSize = 32 << 20
	maxErrorBody    = 4 << 10
)

// DefaultBackends are the production prediction endpoints
var DefaultBackends = map[string]string{
	BackendClassifier: "https://platform.stratpro.hse.ru/pu-sp4-pa-newcls/deploy_version/predict",
	BackendRAG:        "https://platform.stratpro.hse.ru/pu-sp4-pa-hse-model/deploy_version/predict",
}

// Client calls prediction endpoints by name.
type Client struct {
	backends   map[string]string
	httpClient *http.Client
}

// NewClient creates a client whose calls go through g. base performs the
// actual round trips; nil means http.DefaultTransport.
func NewClient(g *guard.Guard, backends map[string]string, base http.RoundTripper) (*Client, error) {
	if g == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	return &Client{
		backends:   backends,
		httpClient: g.Client(base),
	}, nil
}

// Backends lists the configured backend names.
func (c *Client) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for name := range c.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Predict posts payload to backend and returns the raw JSON answer.
//
// Authorization failures surface as autherr.ErrUnauthenticated after the
// guard's single retry. Other non-2xx answers are *autherr.StatusError.
func (c *Client) Predict(ctx context.Context, backend string, payload json.RawMessage) (json.RawMessage, error) {
	target, ok := c.backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, backend)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	defer func() {
		metrics.InferenceRequestDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogWarnWithFields("inference", "Prediction failed", map[string]any{
			"backend": backend,
			"kind":    autherr.Kind(err),
		})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &autherr.StatusError{
			Endpoint:   backend,
			StatusCode: resp.StatusCode,
			Body:       ioutil.ReadLimited(resp.Body, maxErrorBody),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, autherr.Transport("reading "+backend+" response", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s answered with invalid JSON", backend)
	}

	log.LogDebugWithFields("inference", "Prediction completed", map[string]any{
		"backend": backend,
		"bytes":   len(body),
	})
	return body, nil
}
