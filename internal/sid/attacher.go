package sid

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/urlutil"
)

// Attacher binds an outbound identity or exchange request to the backend
// session.
type Attacher interface {
	// Attach mutates req so the backend can find the session.
	Attach(ctx context.Context, req *http.Request) error
	// RequiresIdentifier reports whether a missing identifier means there is
	// no session at all.
	RequiresIdentifier() bool
}

// Mode names an addressing scheme in configuration
type Mode string

const (
	ModeQuery  Mode = "query"
	ModeCookie Mode = "cookie"
)

// NewAttacher returns the attacher for mode.
func NewAttacher(mode Mode, resolver *Resolver) (Attacher, error) {
	switch mode {
	case ModeQuery, "":
		return &QueryAttacher{resolver: resolver}, nil
	case ModeCookie:
		return &CookieAttacher{resolver: resolver}, nil
	default:
		return nil, fmt.Errorf("unknown addressing mode: %s", mode)
	}
}

// QueryAttacher sends the identifier as a query parameter. Without an
// identifier there is no session.
type QueryAttacher struct {
	resolver *Resolver
}

func (a *QueryAttacher) Attach(ctx context.Context, req *http.Request) error {
	id, ok := a.resolver.Current(ctx)
	if !ok {
		return autherr.ErrNoSession
	}
	req.URL = urlutil.SetQueryParam(req.URL, a.resolver.QueryParam(), id)
	return nil
}

func (a *QueryAttacher) RequiresIdentifier() bool { return true }

// CookieAttacher relies on the ambient cookie jar of the HTTP client. An
// identifier is still forwarded when one is known.
type CookieAttacher struct {
	resolver *Resolver
}

func (a *CookieAttacher) Attach(ctx context.Context, req *http.Request) error {
	if a.resolver == nil {
		return nil
	}
	if id, ok := a.resolver.Current(ctx); ok {
		req.URL = urlutil.SetQueryParam(req.URL, a.resolver.QueryParam(), id)
	}
	return nil
}

func (a *CookieAttacher) RequiresIdentifier() bool { return false }
