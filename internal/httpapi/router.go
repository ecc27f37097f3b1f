package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"creditgate/internal/audit"
	"creditgate/internal/auth"
	"creditgate/internal/billing"
	"creditgate/internal/config"
	"creditgate/internal/gate"
	"creditgate/internal/middleware"
	"creditgate/internal/models"
	"creditgate/internal/pricing"
	"creditgate/internal/providers"
	"creditgate/internal/queue"
	"creditgate/internal/ratelimit"
	"creditgate/internal/storage"
	"creditgate/internal/usage"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	DB       *storage.DB
	Registry *auth.Registry
	Limiter  ratelimit.Limiter
	Prices   *pricing.Table
	Ledger   *billing.Ledger
	Recorder *usage.Recorder
	Trail    *audit.Trail
	Gate     *gate.Gate

	// Handler executes the metered operation behind the gate.
	Handler gate.Handler

	UsageWorker *usage.Worker
	Archiver    *audit.Archiver
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(ctx context.Context, cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,

		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,

		CredentialCacheSize: cfg.Database.CredentialCacheSize,
		CredentialCacheTTL:  cfg.Database.CredentialCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	credentialRepo := storage.NewCredentialRepository(db)
	creditRepo := storage.NewCreditRepository(db)
	usageRepo := storage.NewUsageRepository(db)
	auditRepo := storage.NewAuditRepository(db)

	registry, err := auth.NewRegistry(credentialRepo, cfg.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize credential registry: %w", err)
	}

	// Redis backs the rate limiter and the usage queue when enabled, so
	// both survive restarts and are shared across nodes.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Window)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window)
	}

	prices := pricing.DefaultTable()
	if cfg.Pricing.FilePath != "" {
		prices, err = pricing.LoadFile(cfg.Pricing.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load pricing table: %w", err)
		}
	}
	if cfg.Pricing.MarkupPercent > 0 {
		prices.SetMarkup(cfg.Pricing.MarkupPercent)
	}

	ledger := billing.NewLedger(creditRepo, prices)

	// Usage records flow through a queue so a slow database never blocks
	// the request path.
	usageQueueCfg := queue.DefaultConfig("usage")
	usageQueueCfg.BatchSize = cfg.UsageSink.BatchSize
	usageQueueCfg.BatchTimeout = cfg.UsageSink.BatchTimeout
	usageQueueCfg.MaxRetries = cfg.UsageSink.MaxRetries
	usageQueueCfg.RetryBackoff = cfg.UsageSink.RetryBackoff

	var usageQueue queue.Queue
	var usageDLQ queue.DeadLetterQueue
	if redisClient != nil {
		usageQueue = queue.NewRedisQueue(redisClient, usageQueueCfg)
		usageDLQ = queue.NewRedisDeadLetterQueue(redisClient, usageQueueCfg)
	} else {
		usageQueue = queue.NewMemoryQueue(usageQueueCfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}

	usageWorker := usage.NewWorker(usageQueue, usageDLQ, usageRepo, usageQueueCfg)
	usageWorker.Start(ctx)
	recorder := usage.NewQueuedRecorder(usageRepo, usageWorker)

	var alerter audit.Alerter
	if cfg.Audit.WebhookURL != "" {
		alerter = audit.NewWebhookAlerter(cfg.Audit.WebhookURL)
	} else {
		alerter = audit.NewLogAlerter()
	}
	trail := audit.NewTrail(auditRepo, alerter)

	var archiver *audit.Archiver
	if cfg.Audit.ArchiveEnabled {
		archiver, err = audit.NewArchiver(ctx, auditRepo, cfg.Audit.ArchiveBucket, cfg.Audit.ArchiveRegion, cfg.Audit.ArchivePrefix, cfg.Audit.NodeName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit archiver: %w", err)
		}
		go archiver.Run(ctx, cfg.Audit.ArchiveInterval)
	}

	var handler gate.Handler
	if cfg.Provider.BaseURL != "" {
		handler, err = providers.NewUpstream(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.RequestTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize upstream provider: %w", err)
		}
	} else {
		handler = providers.NewEcho()
	}

	deps := &Dependencies{
		DB:          db,
		Registry:    registry,
		Limiter:     limiter,
		Prices:      prices,
		Ledger:      ledger,
		Recorder:    recorder,
		Trail:       trail,
		Gate:        gate.NewGate(registry, limiter, prices, ledger, recorder, trail),
		Handler:     handler,
		UsageWorker: usageWorker,
		Archiver:    archiver,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

// Close stops background workers and releases connections.
func (d *Dependencies) Close() error {
	if d.UsageWorker != nil {
		d.UsageWorker.Stop()
	}
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	// Metered endpoint. Authentication happens inside the gate pipeline,
	// not in middleware, so every rejection reaches the audit trail with
	// full request context.
	executeHandler := NewExecuteHandler(deps.Gate, deps.Handler)
	mux.HandleFunc("/v1/execute", executeHandler.Execute)

	// Health check endpoint - public
	mux.HandleFunc("/health", deps.handleHealth)

	// Tenant self-service endpoints - protected with credential middleware
	usageMiddleware := middleware.CredentialMiddleware(deps.Registry, deps.Trail, models.PermissionUsageRead)
	auditMiddleware := middleware.CredentialMiddleware(deps.Registry, deps.Trail, models.PermissionAuditRead)

	usageHandler := NewUsageHandler(deps.Recorder, deps.Ledger)
	mux.Handle("/v1/usage/records", usageMiddleware(http.HandlerFunc(usageHandler.Records)))
	mux.Handle("/v1/usage/summary", usageMiddleware(http.HandlerFunc(usageHandler.Summary)))
	mux.Handle("/v1/credits/balance", usageMiddleware(http.HandlerFunc(NewCreditsHandler(deps.Ledger, deps.Trail, cfg).Balance)))

	auditHandler := NewAuditHandler(deps.Trail, cfg)
	mux.Handle("/v1/audit/events", auditMiddleware(http.HandlerFunc(auditHandler.Events)))

	// Admin session endpoint - public, authenticated by the presented
	// admin credential itself.
	sessionHandler := NewSessionHandler(deps.Registry, deps.Trail, cfg)
	mux.HandleFunc("/admin/auth/session", sessionHandler.Create)

	// Admin management endpoints - protected with the session middleware
	session := middleware.SessionMiddleware(cfg.SessionSecret)

	credentialsHandler := NewCredentialsHandler(deps.Registry, deps.Trail)
	mux.Handle("/admin/credentials", session(http.HandlerFunc(credentialsHandler.Route)))
	mux.Handle("/admin/credentials/", session(http.HandlerFunc(credentialsHandler.Route)))

	creditsHandler := NewCreditsHandler(deps.Ledger, deps.Trail, cfg)
	mux.Handle("/admin/credits/", session(http.HandlerFunc(creditsHandler.Route)))

	mux.Handle("/admin/usage/records", session(http.HandlerFunc(usageHandler.Records)))
	mux.Handle("/admin/usage/summary", session(http.HandlerFunc(usageHandler.Summary)))
	mux.Handle("/admin/audit/events", session(http.HandlerFunc(auditHandler.Events)))
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if d.DB != nil {
		if err := d.DB.Health(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
