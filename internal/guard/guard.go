// Package guard wraps calls to protected backends with the credential policy:
// attach a fresh credential, refresh once on an authorization failure, and
// give up by forcing reauthorization when the refresh does not help.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/credential"
	"github.com/dimaakimm/hseai-session/internal/ioutil"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/metrics"
)

// DefaultAttemptTimeout bounds every individual attempt
const DefaultAttemptTimeout = 2 * time.Minute

const maxErrorBody = 4 << 10

// TokenAcquirer supplies and invalidates credentials
type TokenAcquirer interface {
	EnsureFresh(ctx context.Context) (credential.AccessCredential, error)
	Reject(token string) bool
}

// Reauthorizer is told when a session cannot be recovered
type Reauthorizer interface {
	ForceReauthorize(ctx context.Context)
}

// RequestFunc issues one attempt of a protected call with cred. ctx carries
// the attempt deadline.
type RequestFunc func(ctx context.Context, cred credential.AccessCredential) (*http.Response, error)

// Guard applies the retry policy. It is safe for concurrent use.
type Guard struct {
	acquirer       TokenAcquirer
	session        Reauthorizer
	attemptTimeout time.Duration
}

// Option configures a Guard
type Option func(*Guard)

// WithAttemptTimeout overrides the per-attempt timeout
func WithAttemptTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

// New creates a guard.
func New(acquirer TokenAcquirer, session Reauthorizer, opts ...Option) *Guard {
	g := &Guard{
		acquirer:       acquirer,
		session:        session,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs fn with a fresh credential. A 401 or 403 answer drops the
// credential and runs fn exactly once more with a new one. If that does not
// help the session is handed back for reauthorization and Execute fails with
// autherr.ErrUnauthenticated.
//
// Any other outcome, including a 5xx response, is returned as is. The caller
// owns the body of a returned response and must close it.
func (g *Guard) Execute(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	resp, err := g.execute(ctx, fn)
	metrics.GuardOutcomesTotal.WithLabelValues(autherr.Kind(err)).Inc()
	return resp, err
}

func (g *Guard) execute(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	cred, err := g.acquirer.EnsureFresh(ctx)
	switch {
	case errors.Is(err, autherr.ErrNoSession):
		return nil, fmt.Errorf("%w: %v", autherr.ErrUnauthenticated, err)
	case errors.Is(err, autherr.ErrUnauthenticated):
		g.reauthorize(ctx, err)
		return nil, err
	case err != nil:
		return nil, err
	}

	resp, err := g.attempt(ctx, 1, cred, fn)
	if err != nil || !autherr.IsAuthorizationFailure(resp.StatusCode) {
		return resp, err
	}

	log.LogDebugWithFields("guard", "Credential rejected, refreshing once", map[string]any{
		"status": resp.StatusCode,
		"token":  log.Redact(cred.Token),
	})
	ioutil.DrainAndClose(resp.Body, maxErrorBody)
	g.acquirer.Reject(cred.Token)
	metrics.GuardRetriesTotal.Inc()

	cred, err = g.acquirer.EnsureFresh(ctx)
	if err != nil {
		g.reauthorize(ctx, err)
		return nil, fmt.Errorf("%w: refreshing credential: %v", autherr.ErrUnauthenticated, err)
	}

	resp, err = g.attempt(ctx, 2, cred, fn)
	if err != nil || !autherr.IsAuthorizationFailure(resp.StatusCode) {
		return resp, err
	}

	se := &autherr.StatusError{
		Endpoint:   "protected call",
		StatusCode: resp.StatusCode,
		Body:       ioutil.ReadLimited(resp.Body, maxErrorBody),
	}
	_ = resp.Body.Close()
	g.acquirer.Reject(cred.Token)
	g.reauthorize(ctx, se)
	return nil, se
}

func (g *Guard) attempt(ctx context.Context, n int, cred credential.AccessCredential, fn RequestFunc) (*http.Response, error) {
	metrics.GuardAttemptsTotal.WithLabelValues(strconv.Itoa(n)).Inc()
	log.LogTraceWithFields("guard", "Attempt", map[string]any{
		"attempt": n,
		"token":   log.Redact(cred.Token),
	})

	actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	resp, err := fn(actx, cred)
	if err != nil {
		cancel()
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, autherr.Transport("protected call timed out", err)
		}
		if errors.Is(err, autherr.ErrTransportFailure) || ctx.Err() != nil {
			return nil, err
		}
		return nil, autherr.Transport("protected call", err)
	}
	if resp == nil {
		cancel()
		return nil, fmt.Errorf("protected call returned neither response nor error")
	}

	// The deadline also covers reading the body.
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (g *Guard) reauthorize(ctx context.Context, cause error) {
	log.LogWarnWithFields("guard", "Authorization failed after refresh, forcing reauthorization", map[string]any{
		"kind":  autherr.Kind(cause),
		"error": cause.Error(),
	})
	if g.session != nil {
		g.session.ForceReauthorize(ctx)
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
