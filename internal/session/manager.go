package session

import (
	"context"
	"errors"
	"sync"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/credential"
	"github.com/dimaakimm/hseai-session/internal/identity"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/metrics"
	"github.com/dimaakimm/hseai-session/internal/sid"
	"github.com/dimaakimm/hseai-session/internal/stream"
	"github.com/jonboulle/clockwork"
)

// IdentityFetcher asks the identity endpoint who the session belongs to
type IdentityFetcher interface {
	Me(ctx context.Context) (*identity.Identity, error)
}

// TokenAcquirer returns a fresh model credential, exchanging if needed
type TokenAcquirer interface {
	EnsureFresh(ctx context.Context) (credential.AccessCredential, error)
}

// Navigator performs whole-page navigation to an external URL
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// Manager is the only writer of the authorization state.
//
// Every transition that starts or ends a session advances an epoch. A network
// result that arrives after its epoch has passed is dropped, so a slow
// identity check can never resurrect a session the user already left.
type Manager struct {
	resolver   *sid.Resolver
	identity   IdentityFetcher
	acquirer   TokenAcquirer
	store      *credential.Store
	navigator  Navigator
	clock      clockwork.Clock
	loginURL   string
	logoutURL  string
	requireSID bool

	mu    sync.Mutex
	epoch uint64
	state *stream.Subject[State]
}

// Option configures a Manager
type Option func(*Manager)

// WithNavigator sets the navigator used by SignIn and SignOut
func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		m.navigator = n
	}
}

// WithClock sets the clock used when seeding credentials
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLoginURL sets the identity provider's login page
func WithLoginURL(u string) Option {
	return func(m *Manager) {
		m.loginURL = u
	}
}

// WithLogoutURL sets the identity provider's logout page
func WithLogoutURL(u string) Option {
	return func(m *Manager) {
		m.logoutURL = u
	}
}

// WithIdentifierRequired controls whether a missing session identifier means
// unauthorized without asking the identity endpoint. It is true by default;
// cookie-addressed deployments turn it off.
func WithIdentifierRequired(required bool) Option {
	return func(m *Manager) {
		m.requireSID = required
	}
}

// NewManager creates a manager in the loading state.
func NewManager(resolver *sid.Resolver, fetcher IdentityFetcher, acquirer TokenAcquirer, store *credential.Store, opts ...Option) *Manager {
	m := &Manager{
		resolver:   resolver,
		identity:   fetcher,
		acquirer:   acquirer,
		store:      store,
		navigator:  NavigatorFunc(func(string) {}),
		clock:      clockwork.NewRealClock(),
		requireSID: true,
		state:      stream.NewSubject(loading()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state.Value()
}

// Subscribe streams the current state and then every transition in order.
func (m *Manager) Subscribe(ctx context.Context) <-chan State {
	return m.state.Subscribe(ctx)
}

// Identity returns the confirmed identity, or nil unless authorized.
func (m *Manager) Identity() *identity.Identity {
	s := m.state.Value()
	if !s.Authorized() {
		return nil
	}
	return s.Identity
}

// Initialize runs one identity check cycle and returns the state it ended in.
// Failures are expressed as states, never as errors.
func (m *Manager) Initialize(ctx context.Context) State {
	epoch := m.begin()

	if _, ok := m.resolver.Resolve(ctx); !ok && m.requireSID {
		log.LogInfoWithFields("session", "No session identifier, not signed in", nil)
		m.commit(epoch, unauthorized(), true)
		return m.State()
	}

	me, err := m.identity.Me(ctx)
	if err != nil {
		switch {
		case errors.Is(err, autherr.ErrNoSession), errors.Is(err, autherr.ErrUnauthenticated):
			log.LogInfoWithFields("session", "Identity check rejected the session", map[string]any{
				"kind": autherr.Kind(err),
			})
			m.commit(epoch, unauthorized(), true)
		default:
			log.LogErrorWithFields("session", "Identity check failed", map[string]any{
				"kind":  autherr.Kind(err),
				"error": err.Error(),
			})
			m.commit(epoch, failed(ReasonIdentityCheckFailed), true)
		}
		return m.State()
	}

	if !m.commit(epoch, authorized(me), false) {
		return m.State()
	}

	if err := m.seed(ctx, epoch, me); err != nil {
		log.LogErrorWithFields("session", "Signed in but model credential unavailable", map[string]any{
			"kind":  autherr.Kind(err),
			"error": err.Error(),
		})
		m.commit(epoch, failed(ReasonCredentialUnavailable), false)
	}
	return m.State()
}

// seed fills the credential store, from the identity answer when it carries
// a credential and from an exchange otherwise.
func (m *Manager) seed(ctx context.Context, epoch uint64, me *identity.Identity) error {
	if len(me.ModelTokens) > 0 {
		c, err := credential.FromFields(me.ModelTokens, m.clock.Now())
		if err == nil && credential.Fresh(&c, m.clock.Now()) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.epoch == epoch {
				m.store.Set(c)
			}
			return nil
		}
		log.LogDebugWithFields("session", "Ignoring unusable credential in identity answer", map[string]any{
			"error": errString(err),
		})
	}

	_, err := m.acquirer.EnsureFresh(ctx)
	return err
}

// RefreshIdentity fetches the identity again without changing the state.
func (m *Manager) RefreshIdentity(ctx context.Context) (*identity.Identity, error) {
	return m.identity.Me(ctx)
}

// SignIn sends the user to the identity provider's login page.
func (m *Manager) SignIn() {
	log.LogInfoWithFields("session", "Redirecting to login", map[string]any{
		"url": m.loginURL,
	})
	m.navigator.Navigate(m.loginURL)
}

// SignOut ends the session locally and sends the user to the identity
// provider's logout page. Calling it again is harmless.
func (m *Manager) SignOut(ctx context.Context) {
	m.end()
	m.resolver.Forget(ctx)
	log.LogInfoWithFields("session", "Signed out", map[string]any{
		"url": m.logoutURL,
	})
	m.navigator.Navigate(m.logoutURL)
}

// ForceReauthorize drops local credentials and moves to unauthorized without
// any network traffic. The guard calls it after an unrecoverable rejection.
func (m *Manager) ForceReauthorize(context.Context) {
	m.end()
	log.LogWarnWithFields("session", "Session rejected, reauthorization required", nil)
}

// Close ends all state subscriptions.
func (m *Manager) Close() {
	m.state.Close()
}

func (m *Manager) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.publishLocked(loading())
	return m.epoch
}

// end clears local credentials and starts a new epoch in the unauthorized state.
func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.store.Clear()
	if m.state.Value().Status != StatusUnauthorized {
		m.publishLocked(unauthorized())
	}
}

// commit publishes s if epoch is still current, optionally clearing the
// credential store first.
func (m *Manager) commit(epoch uint64, s State, clearStore bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		log.LogDebugWithFields("session", "Dropping result of a superseded check", map[string]any{
			"status": s.Status,
			"epoch":  epoch,
		})
		return false
	}
	if clearStore {
		m.store.Clear()
	}
	m.publishLocked(s)
	return true
}

func (m *Manager) publishLocked(s State) {
	metrics.SessionTransitionsTotal.WithLabelValues(string(s.Status)).Inc()
	m.state.Publish(s)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
