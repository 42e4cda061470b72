// ABOUTME: Gateway orchestrator wiring auth, quota, admin, and the HTTP server
// ABOUTME: Owns startup, scheduled jobs, and graceful shutdown of every component

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/quotagate/internal/admin"
	"github.com/2389/quotagate/internal/auth"
	"github.com/2389/quotagate/internal/config"
	"github.com/2389/quotagate/internal/credcache"
	"github.com/2389/quotagate/internal/quota"
	"github.com/2389/quotagate/internal/store"
)

// Gateway orchestrates the quotagate server components.
type Gateway struct {
	config *config.Config
	store  *store.SQLiteStore
	redis  *store.RedisStore // nil unless usage.backend is redis

	keyRing   *auth.KeyRing                    // nil without an identity provider
	credCache *credcache.Cache[auth.Principal] // nil without an identity provider
	internal  *auth.InternalVerifier
	resolver  auth.CredentialResolver

	ledger    *quota.Ledger
	policy    *quota.Policy
	gate      *admin.Gate
	completer Completer

	cron       *cron.Cron
	httpServer *http.Server
	logger     *slog.Logger
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithCompleter replaces the default echo completer.
func WithCompleter(c Completer) Option {
	return func(g *Gateway) {
		g.completer = c
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		store:     sqlStore,
		completer: EchoCompleter{},
		cron:      cron.New(cron.WithLocation(time.UTC)),
		logger:    logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(gw)
	}

	if err := gw.init(logger); err != nil {
		gw.closeComponents()
		return nil, err
	}
	return gw, nil
}

// sharedState is where the budget and the principal registry live. SQLite
// serves a lone gateway; Redis serves gateways sharing one usage backend.
type sharedState interface {
	store.UsageStore
	MonthlyUnitBudget(ctx context.Context) (int64, error)
	SetMonthlyUnitBudget(ctx context.Context, units int64) error
	SeedMonthlyUnitBudget(ctx context.Context, units int64) error
	CountPrincipals(ctx context.Context) (int, error)
}

func (g *Gateway) init(logger *slog.Logger) error {
	ctx := context.Background()
	cfg := g.config

	shared, err := g.initSharedState(ctx)
	if err != nil {
		return err
	}
	if err := shared.SeedMonthlyUnitBudget(ctx, cfg.Quota.MonthlyUnitBudget); err != nil {
		return err
	}

	g.internal = auth.NewInternalVerifier([]byte(cfg.Auth.JWTSecret))
	g.resolver = auth.NewResolver(g.initExternalVerifier(logger), g.internal, logger)

	g.ledger = quota.NewLedger(shared, logger)
	g.policy = quota.NewPolicy(g.ledger, shared, shared, quota.PolicyOptions{
		EstimateMultiplier: cfg.Quota.EstimateMultiplier,
		DefaultBudget:      cfg.Quota.MonthlyUnitBudget,
		StrictReservations: cfg.Quota.StrictReservations,
		Logger:             logger,
	})
	g.gate = admin.NewGate(admin.GateConfig{
		AdminPrincipalID: cfg.Auth.AdminPrincipalID,
		Ledger:           g.ledger,
		Policy:           g.policy,
		Directory:        g.store,
		Settings:         shared,
		Audit:            g.store,
		Issuer:           g.internal,
		Logger:           logger,
	})

	if err := g.scheduleJobs(); err != nil {
		return err
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// initSharedState picks the backend for usage totals, the budget, and the
// principal registry. SQLite is the default. With Redis every gateway
// pointed at the same server sees the same totals, budget, and headcount;
// principals already in the local directory are added to the shared set.
func (g *Gateway) initSharedState(ctx context.Context) (sharedState, error) {
	if g.config.Usage.Backend != config.UsageBackendRedis {
		return g.store, nil
	}

	u := g.config.Usage
	rs, err := store.NewRedisStore(ctx, u.RedisAddr, u.RedisPassword, u.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("initializing redis store: %w", err)
	}
	g.redis = rs

	local, err := g.store.ListPrincipals(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(local))
	for _, p := range local {
		ids = append(ids, p.ID)
	}
	if err := rs.AddPrincipals(ctx, ids...); err != nil {
		return nil, err
	}
	return rs, nil
}

// initExternalVerifier returns nil when no identity provider is configured.
// The return type is the interface so the resolver sees a true nil.
func (g *Gateway) initExternalVerifier(logger *slog.Logger) auth.Verifier {
	idp := g.config.Auth.IdentityProvider
	if !idp.Enabled() {
		g.logger.Info("no identity provider configured, accepting internal credentials only")
		return nil
	}

	client := &http.Client{Timeout: idp.FetchTimeout}
	var fetcher auth.KeyFetcher
	if idp.JWKSURL != "" {
		fetcher = auth.NewJWKSFetcher(idp.JWKSURL, client)
	} else {
		fetcher = auth.NewDiscoveryFetcher(idp.IssuerURL, client)
	}

	g.keyRing = auth.NewKeyRing(fetcher, auth.KeyRingOptions{
		FetchTimeout:        idp.FetchTimeout,
		MissRefreshInterval: idp.MissRefreshInterval,
		Logger:              logger,
	})
	g.credCache = credcache.New[auth.Principal](idp.CredentialCacheTTL, idp.CredentialCacheSize)

	if idp.AllowAudienceFallback {
		g.logger.Warn("audience fallback enabled; credentials for other audiences from this provider will be accepted",
			"trust_boundary", "audience_relaxed",
			"audience", idp.Audience,
		)
	}

	return auth.NewExternalVerifier(g.keyRing, auth.ExternalVerifierOptions{
		Audience:              idp.Audience,
		Issuer:                idp.IssuerURL,
		AllowAudienceFallback: idp.AllowAudienceFallback,
		Cache:                 g.credCache,
		Logger:                logger,
	})
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// RegisterPrincipal records p in the principal directory. It backs the
// registered-principal count the quota policy divides the budget by.
func (g *Gateway) RegisterPrincipal(ctx context.Context, p auth.Principal) error {
	err := g.store.UpsertPrincipal(ctx, &store.PrincipalRecord{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		AuthSource:  string(p.AuthSource),
	})
	if err != nil || g.redis == nil {
		return err
	}
	return g.redis.AddPrincipals(ctx, p.ID)
}

// Run starts the HTTP server and scheduled jobs and blocks until ctx is
// canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.warmKeyRing(ctx)

	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		g.closeComponents()
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}

	g.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// warmKeyRing fetches the provider's keys once at startup. Failure is not
// fatal: internal credentials keep working and the ring retries on demand.
func (g *Gateway) warmKeyRing(ctx context.Context) {
	if g.keyRing == nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, g.config.Auth.IdentityProvider.FetchTimeout)
	defer cancel()
	if err := g.keyRing.Refresh(fetchCtx); err != nil {
		g.logger.Warn("identity provider keys unavailable at startup, external credentials will be rejected until a refresh succeeds",
			"error", err,
		)
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

// Shutdown stops the HTTP server, waits for running jobs, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	select {
	case <-g.cron.Stop().Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("scheduled jobs still running: %w", ctx.Err()))
	}

	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// closeComponents releases caches and stores. Safe on a partially built gateway.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.credCache != nil {
		g.credCache.Close()
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}
