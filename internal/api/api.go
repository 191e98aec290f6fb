// Package api provides the HTTP server and main run loop for the funnel engine.
//
// It exposes endpoints for starting and stopping DM monitoring, advancing
// conversations synchronously, and inspecting per-tenant health. Run wires the
// store, the Whop client, the monitoring manager, the timeout reaper, and the
// recovery pass together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub005/internal/lockfile"
	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/monitor"
	"github.com/MichaelRobotics/Hustler-sub005/internal/ratelimit"
	"github.com/MichaelRobotics/Hustler-sub005/internal/recovery"
	"github.com/MichaelRobotics/Hustler-sub005/internal/scheduler"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
	"github.com/MichaelRobotics/Hustler-sub005/internal/twiliosms"
	"github.com/MichaelRobotics/Hustler-sub005/internal/whop"
)

// Default server configuration values.
const (
	// DefaultAddr is the default API server listen address.
	DefaultAddr = ":8080"
	// DefaultIdleTenantSweepInterval is how often idle tenant entries are evicted.
	DefaultIdleTenantSweepInterval = 5 * time.Minute
	// DefaultShutdownTimeout bounds the graceful HTTP shutdown on exit.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	StateDir         string
	RedisURL         string
	LenientMatching  bool
	ReapInterval     time.Duration
	TimeoutThreshold time.Duration
	EnableTwilio     bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory used for the instance lock file.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithRedisURL enables Redis-backed rate limiting shared across instances.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithLenientMatching enables substring matching of user replies against
// funnel options.
func WithLenientMatching() Option {
	return func(o *Opts) { o.LenientMatching = true }
}

// WithReapInterval sets how often the timeout reaper sweeps.
func WithReapInterval(interval time.Duration) Option {
	return func(o *Opts) { o.ReapInterval = interval }
}

// WithTimeoutThreshold sets the inactivity threshold after which active
// conversations are abandoned.
func WithTimeoutThreshold(threshold time.Duration) Option {
	return func(o *Opts) { o.TimeoutThreshold = threshold }
}

// WithTwilio enables the Twilio SMS webhook channel.
func WithTwilio() Option {
	return func(o *Opts) { o.EnableTwilio = true }
}

// Server bundles the API handlers with their collaborators.
type Server struct {
	st        store.Store
	mgr       *monitor.Manager
	twilioSvc *messaging.TwilioService
	addr      string
}

// NewServer creates an API server around an existing store and monitoring
// manager. twilioSvc may be nil when the SMS channel is not configured.
func NewServer(st store.Store, mgr *monitor.Manager, twilioSvc *messaging.TwilioService, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{st: st, mgr: mgr, twilioSvc: twilioSvc, addr: addr}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/monitor/start", s.startMonitoringHandler)
	mux.HandleFunc("/monitor/stop", s.stopMonitoringHandler)
	mux.HandleFunc("/conversations/advance", s.advanceConversationHandler)
	mux.HandleFunc("/conversations", s.conversationsRootHandler)
	mux.HandleFunc("/tenants/health", s.tenantHealthHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

// Run builds the full service from options and blocks until shutdown.
func Run(whopOpts []whop.Option, storeOpts []store.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = monitor.DefaultReapInterval
	}
	if cfg.TimeoutThreshold <= 0 {
		cfg.TimeoutThreshold = monitor.DefaultTimeoutThreshold
	}

	// Only one instance may own the state directory at a time.
	var lock *lockfile.Lock
	if cfg.StateDir != "" {
		var err error
		lock, err = lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to acquire instance lock: %w", err)
		}
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("Server.Run: failed to release instance lock", "error", releaseErr)
			}
		}()
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Warn("Server.Run: failed to close store", "error", closeErr)
		}
	}()

	whopClient, err := whop.NewClient(whopOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Whop client: %w", err)
	}

	strictness := funnel.StrictnessExact
	if cfg.LenientMatching {
		strictness = funnel.StrictnessLenient
	}
	machine := funnel.NewStateMachine(funnel.NewMatcher(strictness), funnel.NewEscalationTracker())
	metrics := monitor.NewMetricsCollector()

	newLimiter, err := buildLimiterFactory(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to configure rate limiting: %w", err)
	}

	mgr, err := monitor.NewManager(monitor.ManagerConfig{
		Store:      st,
		Machine:    machine,
		Metrics:    metrics,
		NewLimiter: newLimiter,
		NewService: func(experienceID string) (messaging.Service, error) {
			return messaging.NewWhopService(whopClient, whopClient.AgentUserID()), nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create monitoring manager: %w", err)
	}
	defer mgr.StopAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Restart monitoring for conversations that were active before the last
	// shutdown.
	rec := recovery.NewManager()
	rec.Register(recovery.NewConversationRecoverer(st, mgr))
	if err := rec.RecoverAll(ctx); err != nil {
		slog.Warn("Server.Run: state recovery incomplete", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	reaper := monitor.NewReaper(st, mgr, cfg.TimeoutThreshold)
	if err := sched.AddEvery(cfg.ReapInterval, func() {
		if reaped := reaper.Sweep(); reaped > 0 {
			slog.Info("Server.Run: timeout sweep abandoned conversations", "count", reaped)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule timeout reaper: %w", err)
	}
	if err := sched.AddEvery(DefaultIdleTenantSweepInterval, mgr.SweepIdleTenants); err != nil {
		return fmt.Errorf("failed to schedule idle tenant sweep: %w", err)
	}

	var twilioSvc *messaging.TwilioService
	if cfg.EnableTwilio {
		twilioSvc, err = buildTwilioChannel(ctx, st, mgr)
		if err != nil {
			return fmt.Errorf("failed to configure Twilio channel: %w", err)
		}
		defer twilioSvc.Stop()
	}

	server := NewServer(st, mgr, twilioSvc, cfg.Addr)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", cfg.Addr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case serveErr := <-errCh:
		return fmt.Errorf("API server failed: %w", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown failed: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}

// buildStore selects a backend from the configured DSN: Postgres for
// postgres:// URLs, SQLite for file paths, in-memory when no DSN is set.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var opts store.Opts
	for _, opt := range storeOpts {
		opt(&opts)
	}
	switch {
	case opts.DSN == "":
		slog.Info("Store configured", "backend", "memory")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(opts.DSN) == "postgres":
		slog.Info("Store configured", "backend", "postgres")
		return store.NewPostgresStore(storeOpts...)
	default:
		slog.Info("Store configured", "backend", "sqlite", "path", opts.DSN)
		return store.NewSQLiteStore(storeOpts...)
	}
}

// buildLimiterFactory returns a per-tenant limiter constructor. With Redis the
// limiter state is shared across instances; otherwise each tenant gets an
// in-process sliding window.
func buildLimiterFactory(redisURL string) (func() ratelimit.Limiter, error) {
	if redisURL == "" {
		return func() ratelimit.Limiter {
			return ratelimit.NewSlidingWindow(ratelimit.DefaultPolicies)
		}, nil
	}
	client, err := ratelimit.ConnectRedis(context.Background(), redisURL)
	if err != nil {
		return nil, err
	}
	slog.Info("Rate limiting configured", "backend", "redis")
	return func() ratelimit.Limiter {
		return ratelimit.NewRedisLimiter(client, ratelimit.DefaultPolicies)
	}, nil
}

// buildTwilioChannel wires the SMS fallback: inbound webhook messages are
// matched to active conversations by phone-derived user ID and fed through
// the same advance path as DM polling.
func buildTwilioChannel(ctx context.Context, st store.Store, mgr *monitor.Manager) (*messaging.TwilioService, error) {
	client, err := twiliosms.NewClient()
	if err != nil {
		return nil, err
	}
	svc := messaging.NewTwilioService(client)
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	respHandler := messaging.NewResponseHandler(svc)
	respHandler.SetDefaultAction(smsAdvanceAction(st, mgr))
	go respHandler.Run(ctx)
	return svc, nil
}

// smsAdvanceAction routes an inbound SMS to the sender's active conversation
// and advances it. Unmatched senders are left to the handler's default reply.
func smsAdvanceAction(st store.Store, mgr *monitor.Manager) messaging.ResponseAction {
	return func(ctx context.Context, from, responseText string, timestamp int64) (bool, error) {
		conversations, err := st.ListActiveConversations()
		if err != nil {
			return false, fmt.Errorf("failed to list active conversations: %w", err)
		}
		for i := range conversations {
			conv := conversations[i]
			if conv.UserID != from {
				continue
			}
			advancer, err := mgr.AdvancerFor(conv.ExperienceID)
			if err != nil {
				return false, fmt.Errorf("failed to resolve tenant %s: %w", conv.ExperienceID, err)
			}
			outcome, err := advancer.AdvanceConversation(ctx, &conv, responseText)
			if err != nil {
				return false, err
			}
			slog.Info("SMS advanced conversation", "conversationID", conv.ID, "outcome", outcome.Kind)
			return true, nil
		}
		slog.Debug("SMS sender has no active conversation", "from", from)
		return false, nil
	}
}
