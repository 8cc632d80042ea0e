package internal

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimaakimm/hseai-session/internal/config"
	"github.com/dimaakimm/hseai-session/internal/credential"
	"github.com/dimaakimm/hseai-session/internal/crypto"
	"github.com/dimaakimm/hseai-session/internal/guard"
	"github.com/dimaakimm/hseai-session/internal/identity"
	"github.com/dimaakimm/hseai-session/internal/inference"
	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/modeltoken"
	"github.com/dimaakimm/hseai-session/internal/server"
	"github.com/dimaakimm/hseai-session/internal/session"
	"github.com/dimaakimm/hseai-session/internal/sid"
	"github.com/dimaakimm/hseai-session/internal/storage"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App is the local session bridge with all dependencies built
type App struct {
	config     config.Config
	httpServer *server.HTTPServer
	handler    http.Handler
	handlers   *server.Handlers
	navigator  *server.Navigator
	manager    *session.Manager
	store      *credential.Store
	closeKV    func() error
}

// NewApp wires storage, the session components and the bridge server
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	log.LogInfoWithFields("hseai", "Building session bridge", map[string]any{
		"baseURL":    cfg.Identity.BaseURL,
		"addressing": cfg.Identity.Addressing,
		"storage":    cfg.Session.Storage,
		"backends":   len(cfg.Backends),
	})

	kv, closeKV, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	var location sid.Location
	if cfg.Session.StartURL != "" {
		bar, err := sid.NewAddressBar(cfg.Session.StartURL)
		if err != nil {
			_ = closeKV()
			return nil, fmt.Errorf("invalid session.startURL: %w", err)
		}
		location = bar
	}

	resolver := sid.NewResolver(location, kv,
		sid.WithQueryParam(cfg.Session.QueryParam),
		sid.WithStorageKey(cfg.Session.StorageKey),
	)
	attacher, err := sid.NewAttacher(sid.Mode(cfg.Identity.Addressing), resolver)
	if err != nil {
		_ = closeKV()
		return nil, err
	}

	// The identity and exchange calls share one cookie jar so cookie
	// addressing sees the same backend session on both.
	httpClient := identity.NewHTTPClient(cfg.Identity.Timeout)

	identityClient, err := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.MePath, attacher,
		identity.WithHTTPClient(httpClient))
	if err != nil {
		_ = closeKV()
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	store := credential.NewStore()
	acquirer, err := modeltoken.NewAcquirer(cfg.Identity.BaseURL, cfg.Identity.TokenPath, store, attacher,
		modeltoken.WithHTTPClient(httpClient),
		modeltoken.WithTimeout(cfg.Identity.Timeout),
	)
	if err != nil {
		_ = closeKV()
		return nil, fmt.Errorf("failed to create token acquirer: %w", err)
	}

	navigator := server.NewNavigator()
	manager := session.NewManager(resolver, identityClient, acquirer, store,
		session.WithNavigator(navigator),
		session.WithLoginURL(cfg.Identity.LoginURL),
		session.WithLogoutURL(cfg.Identity.LogoutURL),
		session.WithIdentifierRequired(attacher.RequiresIdentifier()),
	)

	g := guard.New(acquirer, manager, guard.WithAttemptTimeout(cfg.Guard.AttemptTimeout))

	backends := cfg.Backends
	if len(backends) == 0 {
		backends = inference.DefaultBackends
	}
	predictor, err := inference.NewClient(g, backends, nil)
	if err != nil {
		manager.Close()
		_ = closeKV()
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	handlers := server.NewHandlers(manager, predictor, navigator)
	handler := handlers.Routes(cfg.Server.AllowedOrigins)
	httpServer := server.NewHTTPServer(handler, cfg.Server.Addr)
	httpServer.OnShutdown(handlers.Close)

	return &App{
		config:     cfg,
		httpServer: httpServer,
		handler:    handler,
		handlers:   handlers,
		navigator:  navigator,
		manager:    manager,
		store:      store,
		closeKV:    closeKV,
	}, nil
}

// Handler returns the bridge routes
func (a *App) Handler() http.Handler {
	return a.handler
}

// Manager returns the session manager driving the bridge
func (a *App) Manager() *session.Manager {
	return a.manager
}

// Run serves the bridge and checks the session once at startup. It returns
// when ctx is done, on SIGINT/SIGTERM or when the server fails.
func (a *App) Run(ctx context.Context) error {
	log.LogInfoWithFields("hseai", "Starting session bridge", map[string]any{
		"addr": a.config.Server.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logTransitions(gctx)
		return nil
	})

	g.Go(func() error {
		a.manager.Initialize(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("hseai", "Starting graceful shutdown", map[string]any{
			"reason":  context.Cause(gctx).Error(),
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.LogErrorWithFields("hseai", "Session bridge stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("hseai", "Application shutdown complete", nil)
	return nil
}

func (a *App) logTransitions(ctx context.Context) {
	for state := range a.manager.Subscribe(ctx) {
		fields := map[string]any{"status": state.Status}
		if state.Reason != "" {
			fields["reason"] = state.Reason
		}
		if state.Identity != nil {
			fields["user"] = state.Identity.DisplayName()
		}
		log.LogInfoWithFields("hseai", "Authorization state", fields)
	}
}

func (a *App) close() {
	a.handlers.Close()
	a.manager.Close()
	a.navigator.Close()
	a.store.Close()
	if err := a.closeKV(); err != nil {
		log.LogWarnWithFields("hseai", "Failed to close storage", map[string]any{
			"error": err.Error(),
		})
	}
}

// setupStorage creates the durable identifier store from configuration
func setupStorage(ctx context.Context, cfg config.Config) (storage.KeyValueStore, func() error, error) {
	noop := func() error { return nil }
	s := cfg.Session

	var encryptor crypto.Encryptor
	if s.EncryptionKey != "" {
		var err error
		encryptor, err = crypto.NewEncryptor([]byte(s.EncryptionKey))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
	}

	switch s.Storage {
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    s.FirestoreProject,
			"database":   s.FirestoreDatabase,
			"collection": s.FirestoreCollection,
			"namespace":  s.FirestoreNamespace,
		})
		fs, err := storage.NewFirestoreStorage(ctx, storage.FirestoreOptions{
			ProjectID:       s.FirestoreProject,
			Database:        s.FirestoreDatabase,
			Collection:      s.FirestoreCollection,
			Namespace:       s.FirestoreNamespace,
			CredentialsFile: s.FirestoreCredentialsFile,
		}, encryptor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return fs, fs.Close, nil

	case config.StorageFile:
		log.LogInfoWithFields("storage", "Using file storage", map[string]any{
			"path":      s.FilePath,
			"encrypted": encryptor != nil,
		})
		fs, err := storage.NewFileStorage(s.FilePath, encryptor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file storage: %w", err)
		}
		return fs, noop, nil
	}

	log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
	return storage.NewMemoryStorage(), noop, nil
}
