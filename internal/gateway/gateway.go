// ABOUTME: Gateway orchestrator that owns the HTTP server and the chat repository
// ABOUTME: Manages the store, route registration, health endpoints and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/store"
)

// Idempotency-Key replay window for POST .../messages
const (
	replayTTL        = 10 * time.Minute
	replayMaxEntries = 10_000
)

// Gateway serves the chat API over HTTP on top of a store.Repository.
type Gateway struct {
	config     *config.Config
	store      store.Repository
	httpServer *http.Server
	logger     *slog.Logger

	// events fans out conversation changes to SSE streams
	events *conversation.EventBroadcaster

	// heartbeatInterval is how often an idle SSE stream sends a comment line
	heartbeatInterval time.Duration

	// replays remembers created messages by idempotency key
	replays     *dedupe.Cache[MessageResponse]
	replayLocks dedupe.KeyedMutex

	// addr is the bound listener address, set once Run has started listening
	mu   sync.Mutex
	addr string
}

// New creates a new Gateway instance with the given configuration.
// The repository backend is opened from cfg.Store.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	repo, err := store.Open(store.Options{
		Backend: cfg.Store.Backend,
		Driver:  cfg.Store.Driver,
		Path:    cfg.Store.Path,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gw, err := NewWithStore(cfg, repo, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway around an already opened repository.
// The gateway takes ownership of repo and closes it on Shutdown.
func NewWithStore(cfg *config.Config, repo store.Repository, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:            cfg,
		store:             repo,
		logger:            logger.With("component", "gateway"),
		heartbeatInterval: sseHeartbeatInterval,
	}
	gw.events = conversation.NewEventBroadcaster(logger)
	gw.replays = dedupe.New[MessageResponse](replayTTL, replayMaxEntries)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// API endpoints - auth required if JWT secret is configured
	if err := gw.registerHTTPAPIRoutes(mux); err != nil {
		gw.replays.Close()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	return gw, nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) error {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/agents", g.handleListAgents)
	api.HandleFunc("POST /api/agents", g.handleCreateAgent)
	api.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	api.HandleFunc("DELETE /api/agents/{id}", g.handleDeleteAgent)

	api.HandleFunc("GET /api/conversations", g.handleListConversations)
	api.HandleFunc("POST /api/conversations", g.handleCreateConversation)
	api.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	api.HandleFunc("DELETE /api/conversations/{id}", g.handleDeleteConversation)

	api.HandleFunc("GET /api/conversations/{id}/messages", g.handleListMessages)
	api.HandleFunc("POST /api/conversations/{id}/messages", g.handleCreateMessage)
	api.HandleFunc("DELETE /api/conversations/{id}/messages", g.handleDeleteMessages)
	api.HandleFunc("GET /api/conversations/{id}/events", g.handleConversationEvents)

	secret := g.config.Auth.JWTSecret
	if secret == "" {
		mux.Handle("/api/", api)
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return nil
	}
	if len(secret) < config.MinJWTSecretLength {
		return fmt.Errorf("creating HTTP JWT verifier: secret must be at least %d bytes", config.MinJWTSecretLength)
	}

	verifier := auth.NewJWTVerifier([]byte(secret))
	authMiddleware := auth.HTTPAuthMiddleware(verifier, g.logger.With("component", "auth"))
	mux.Handle("/api/", authMiddleware(api))
	g.logger.Info("HTTP auth middleware enabled")
	return nil
}

// Handler returns the root HTTP handler, for embedding or tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Addr returns the address the HTTP server is listening on, or "" before Run.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// setupListener creates the TCP listener for the HTTP server.
func (g *Gateway) setupListener() (net.Listener, error) {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.mu.Lock()
	g.addr = ln.Addr().String()
	g.mu.Unlock()

	g.logger.Info("starting gateway",
		"http_addr", ln.Addr().String(),
		"store", g.config.Store.Backend,
	)
	return ln, nil
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener()
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and the configured timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown drains the HTTP server, then closes the repository.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Ends open event streams so the HTTP server can drain
	g.events.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.replays.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once the repository answers a read.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(agents))
}
