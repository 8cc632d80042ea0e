package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/ioutil"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/sid"
	"github.com/dimaakimm/hseai-session/internal/urlutil"
)

const (
	// DefaultMePath is the identity endpoint path
	DefaultMePath = "/api/me"

	maxBodySize  = 1 << 20
	maxErrorBody = 4 << 10
)

// Client fetches the current identity from the backend.
type Client struct {
	meURL      string
	attacher   sid.Attacher
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client. The client should carry a cookie jar
// when cookie addressing is used.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates an identity client for baseURL + mePath.
func NewClient(baseURL, mePath string, attacher sid.Attacher, opts ...Option) (*Client, error) {
	if mePath == "" {
		mePath = DefaultMePath
	}
	meURL, err := urlutil.JoinPath(baseURL, mePath)
	if err != nil {
		return nil, fmt.Errorf("invalid identity base URL: %w", err)
	}
	c := &Client{
		meURL:    meURL,
		attacher: attacher,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(2 * time.Minute)
	}
	return c, nil
}

// NewHTTPClient returns a client with a cookie jar, the equivalent of sending
// requests with credentials from a browser.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}
}

// Me asks the identity endpoint who the session belongs to.
//
// Errors: autherr.ErrNoSession without a network call when the attacher needs
// an identifier and none is known; a transport failure; or a
// *autherr.StatusError for any non-2xx answer.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.meURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.attacher != nil {
		if err := c.attacher.Attach(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Transport("identity", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &autherr.StatusError{
			Endpoint:   "identity",
			StatusCode: resp.StatusCode,
			Body:       ioutil.ReadLimited(resp.Body, maxErrorBody),
		}
		log.LogDebugWithFields("identity", "Identity check rejected", map[string]any{
			"status": resp.StatusCode,
		})
		return nil, se
	}

	var id Identity
	if err := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, maxBodySize)).Decode(&id); err != nil {
		return nil, fmt.Errorf("%w: decoding identity: %v", autherr.ErrUnknownServerError, err)
	}

	log.LogDebugWithFields("identity", "Identity confirmed", map[string]any{
		"email":              id.User.Email,
		"carries_credential": len(id.ModelTokens) > 0,
	})
	return &id, nil
}
