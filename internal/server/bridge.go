package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/inference"
	jsonwriter "github.com/dimaakimm/hseai-session/internal/json"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/metrics"
	"github.com/dimaakimm/hseai-session/internal/session"
	"github.com/dimaakimm/hseai-session/internal/sse"
	"github.com/dimaakimm/hseai-session/internal/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxPayloadSize = 8 << 20

// SessionManager is the part of session.Manager the bridge exposes
type SessionManager interface {
	State() session.State
	Subscribe(ctx context.Context) <-chan session.State
	Initialize(ctx context.Context) session.State
	SignIn()
	SignOut(ctx context.Context)
}

// Predictor forwards inference payloads to named backends
type Predictor interface {
	Predict(ctx context.Context, backend string, payload json.RawMessage) (json.RawMessage, error)
	Backends() []string
}

// Navigation is a whole-page navigation requested by the session manager
type Navigation struct {
	Target string `json:"target"`
}

// Navigator turns the manager's page navigations into events for bridge
// clients. It implements session.Navigator.
type Navigator struct {
	targets *stream.Subject[string]
}

// NewNavigator creates a navigator with no recorded target
func NewNavigator() *Navigator {
	return &Navigator{targets: stream.NewSubject("")}
}

// Navigate records target and notifies stream subscribers
func (n *Navigator) Navigate(target string) {
	log.LogDebugWithFields("bridge", "Navigation requested", map[string]any{
		"target": target,
	})
	n.targets.Publish(target)
}

// Last returns the most recent navigation target
func (n *Navigator) Last() string {
	return n.targets.Value()
}

// Subscribe yields navigation targets published after the call
func (n *Navigator) Subscribe(ctx context.Context) <-chan string {
	replayed := n.targets.Subscribe(ctx)
	out := make(chan string)
	go func() {
		defer close(out)
		if _, ok := <-replayed; !ok {
			return
		}
		for target := range replayed {
			select {
			case out <- target:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close ends every navigation subscription
func (n *Navigator) Close() {
	n.targets.Close()
}

// Handlers serves the local bridge API over a session manager
type Handlers struct {
	session   SessionManager
	predictor Predictor
	nav       *Navigator

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandlers creates the bridge handlers. nav must be the navigator the
// manager was built with so redirects reach the caller.
func NewHandlers(sessionManager SessionManager, predictor Predictor, nav *Navigator) *Handlers {
	return &Handlers{
		session:   sessionManager,
		predictor: predictor,
		nav:       nav,
		done:      make(chan struct{}),
	}
}

// Close ends open state streams
func (h *Handlers) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Routes builds the bridge mux wrapped in the standard middleware
func (h *Handlers) Routes(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", NewHealthHandler())
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/state", h.StateHandler)
	mux.HandleFunc("GET /api/state/stream", h.StateStreamHandler)
	mux.HandleFunc("POST /api/initialize", h.InitializeHandler)
	mux.HandleFunc("GET /api/backends", h.BackendsHandler)
	mux.HandleFunc("POST /api/predict/{backend}", h.PredictHandler)
	mux.HandleFunc("GET /auth/login", h.LoginHandler)
	mux.HandleFunc("POST /auth/logout", h.LogoutHandler)

	return ChainMiddleware(mux,
		NewCORSMiddleware(allowedOrigins),
		NewLoggerMiddleware("bridge"),
		NewRecoverMiddleware("bridge"),
		NewRequestIDMiddleware(),
	)
}

func (h *Handlers) StateHandler(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, h.session.State())
}

// StateStreamHandler sends "state" events, starting with the current state,
// and "navigate" events for redirects the manager requests.
func (h *Handlers) StateStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonwriter.WriteInternalServerError(w, "Streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	states := h.session.Subscribe(ctx)
	targets := h.nav.Subscribe(ctx)

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	sse.WriteHeaders(w)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if err := sse.WriteEvent(w, flusher, "state", state); err != nil {
				log.LogDebugWithFields("bridge", "State stream write failed", map[string]any{
					"error": err.Error(),
				})
				return
			}
		case target, ok := <-targets:
			if !ok {
				return
			}
			if err := sse.WriteEvent(w, flusher, "navigate", Navigation{Target: target}); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) InitializeHandler(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, h.session.Initialize(r.Context()))
}

func (h *Handlers) BackendsHandler(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, map[string]any{"backends": h.predictor.Backends()})
}

// LoginHandler starts sign-in and redirects to the identity provider
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	h.session.SignIn()
	target := h.nav.Last()
	if target == "" {
		jsonwriter.WriteServiceUnavailable(w, "Login URL is not configured")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// LogoutHandler ends the session. The browser follows the returned redirect
// to end the provider session as well.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut(r.Context())
	_ = jsonwriter.Write(w, map[string]any{
		"redirect": h.nav.Last(),
		"state":    h.session.State(),
	})
}

func (h *Handlers) PredictHandler(w http.ResponseWriter, r *http.Request) {
	backend := r.PathValue("backend")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonwriter.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Payload exceeds limit")
			return
		}
		jsonwriter.WriteBadRequest(w, "Failed to read payload")
		return
	}

	answer, err := h.predictor.Predict(r.Context(), backend, payload)
	if err != nil {
		writePredictError(w, backend, err)
		return
	}
	jsonwriter.WriteRaw(w, answer)
}

func writePredictError(w http.ResponseWriter, backend string, err error) {
	log.LogWarnWithFields("bridge", "Prediction request failed", map[string]any{
		"backend": backend,
		"kind":    autherr.Kind(err),
	})

	var se *autherr.StatusError
	switch {
	case errors.Is(err, inference.ErrUnknownBackend):
		jsonwriter.WriteNotFound(w, "Unknown backend "+backend)
	case errors.Is(err, inference.ErrInvalidPayload):
		jsonwriter.WriteBadRequest(w, "Payload is not valid JSON")
	case errors.Is(err, autherr.ErrUnauthenticated), errors.Is(err, autherr.ErrNoSession):
		jsonwriter.WriteUnauthorized(w, "Sign in required")
	case errors.Is(err, context.DeadlineExceeded):
		jsonwriter.WriteGatewayTimeout(w, "Backend did not answer in time")
	case errors.Is(err, autherr.ErrTransportFailure):
		jsonwriter.WriteBadGateway(w, autherr.Kind(err), "Backend unreachable")
	case errors.As(err, &se):
		jsonwriter.WriteBadGateway(w, "upstream_error", se.Error())
	default:
		jsonwriter.WriteBadGateway(w, autherr.Kind(err), err.Error())
	}
}
