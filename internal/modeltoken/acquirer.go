// Package modeltoken obtains the short-lived model credential from the
// backend's credential-exchange endpoint and keeps the credential store
// seeded with it.
package modeltoken

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/credential"
	"github.com/dimaakimm/hseai-session/internal/ioutil"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/metrics"
	"github.com/dimaakimm/hseai-session/internal/sid"
	"github.com/dimaakimm/hseai-session/internal/urlutil"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenPath is the credential-exchange endpoint path
	DefaultTokenPath = "/api/model-tokens"
	// DefaultTimeout bounds one exchange
	DefaultTimeout = 2 * time.Minute

	exchangeKey  = "model-token"
	maxBodySize  = 1 << 20
	maxErrorBody = 4 << 10
)

// Acquirer returns a fresh credential, exchanging the session for a new one
// when the stored credential is missing or about to expire.
//
// Concurrent callers share a single exchange. The exchange itself runs
// detached from the caller that started it, so one caller giving up does not
// fail the others.
type Acquirer struct {
	tokenURL   string
	store      *credential.Store
	attacher   sid.Attacher
	httpClient *http.Client
	clock      clockwork.Clock
	timeout    time.Duration
	group      singleflight.Group
}

// Option configures an Acquirer
type Option func(*Acquirer)

// WithHTTPClient sets the HTTP client used for exchanges
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Acquirer) {
		a.httpClient = hc
	}
}

// WithClock sets the clock used for freshness checks
func WithClock(clock clockwork.Clock) Option {
	return func(a *Acquirer) {
		a.clock = clock
	}
}

// WithTimeout bounds each exchange
func WithTimeout(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAcquirer creates an acquirer exchanging at baseURL + tokenPath.
func NewAcquirer(baseURL, tokenPath string, store *credential.Store, attacher sid.Attacher, opts ...Option) (*Acquirer, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if tokenPath == "" {
		tokenPath = DefaultTokenPath
	}
	tokenURL, err := urlutil.JoinPath(baseURL, tokenPath)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange base URL: %w", err)
	}

	a := &Acquirer{
		tokenURL: tokenURL,
		store:    store,
		attacher: attacher,
		clock:    clockwork.NewRealClock(),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = http.DefaultClient
	}
	return a, nil
}

// Store returns the credential store the acquirer seeds.
func (a *Acquirer) Store() *credential.Store {
	return a.store
}

// Clock returns the clock used for freshness checks.
func (a *Acquirer) Clock() clockwork.Clock {
	return a.clock
}

// EnsureFresh returns the stored credential when it is fresh, and otherwise
// waits for an exchange. The credential is in the store before EnsureFresh
// returns it.
func (a *Acquirer) EnsureFresh(ctx context.Context) (credential.AccessCredential, error) {
	if c, ok := a.store.Fresh(a.clock.Now()); ok {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return credential.AccessCredential{}, err
	}

	// Values from the first caller are kept, its cancellation is not.
	detached := context.WithoutCancel(ctx)
	ch := a.group.DoChan(exchangeKey, func() (any, error) {
		return a.exchange(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.ExchangeWaiters.Inc()
		}
		if res.Err != nil {
			return credential.AccessCredential{}, res.Err
		}
		return res.Val.(credential.AccessCredential), nil
	case <-ctx.Done():
		return credential.AccessCredential{}, fmt.Errorf("waiting for credential exchange: %w", ctx.Err())
	}
}

// Invalidate drops the stored credential so the next EnsureFresh exchanges.
func (a *Acquirer) Invalidate() {
	if c, ok := a.store.Current(); ok {
		a.store.Discard(c.Token)
	}
}

// Reject drops the stored credential if it is still token. A credential
// stored by a newer exchange is kept.
func (a *Acquirer) Reject(token string) bool {
	dropped := a.store.Discard(token)
	log.LogDebugWithFields("modeltoken", "Credential rejected by backend", map[string]any{
		"token":   log.Redact(token),
		"dropped": dropped,
	})
	return dropped
}

func (a *Acquirer) exchange(ctx context.Context) (credential.AccessCredential, error) {
	// A caller may have lost the race with an exchange that just finished.
	if c, ok := a.store.Fresh(a.clock.Now()); ok {
		return c, nil
	}

	epoch := a.store.Epoch()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	c, err := a.fetch(ctx)
	metrics.ExchangeDuration.Observe(time.Since(start).Seconds())
	metrics.ExchangesTotal.WithLabelValues(autherr.Kind(err)).Inc()

	if err != nil {
		log.LogWarnWithFields("modeltoken", "Credential exchange failed", map[string]any{
			"kind":  autherr.Kind(err),
			"error": err.Error(),
		})
		return credential.AccessCredential{}, err
	}

	if !a.store.SetIfEpoch(c, epoch) {
		log.LogInfoWithFields("modeltoken", "Session ended during exchange, discarding credential", nil)
		return credential.AccessCredential{}, fmt.Errorf("%w: session ended during exchange", autherr.ErrNoSession)
	}

	log.LogInfoWithFields("modeltoken", "Credential refreshed", map[string]any{
		"token":      log.Redact(c.Token),
		"expires_at": c.ExpiresAt,
	})
	return c, nil
}

func (a *Acquirer) fetch(ctx context.Context) (credential.AccessCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.tokenURL, nil)
	if err != nil {
		return credential.AccessCredential{}, fmt.Errorf("building exchange request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.attacher != nil {
		if err := a.attacher.Attach(ctx, req); err != nil {
			return credential.AccessCredential{}, err
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return credential.AccessCredential{}, autherr.Transport("credential exchange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credential.AccessCredential{}, &autherr.StatusError{
			Endpoint:   "credential exchange",
			StatusCode: resp.StatusCode,
			Body:       ioutil.ReadLimited(resp.Body, maxErrorBody),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return credential.AccessCredential{}, autherr.Transport("reading exchange response", err)
	}
	return credential.ParseEnvelope(body, a.clock.Now())
}

// TokenSource adapts the acquirer to oauth2.TokenSource. ctx bounds every
// Token call.
func (a *Acquirer) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, acquirer: a}
}

type tokenSource struct {
	ctx      context.Context
	acquirer *Acquirer
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	c, err := s.acquirer.EnsureFresh(s.ctx)
	if err != nil {
		return nil, err
	}
	return c.OAuth2(), nil
}
