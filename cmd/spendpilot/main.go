package main

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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	sphttp "github.com/Strob0t/SpendPilot/internal/adapter/http"
	spnats "github.com/Strob0t/SpendPilot/internal/adapter/nats"
	"github.com/Strob0t/SpendPilot/internal/adapter/natskv"
	spotel "github.com/Strob0t/SpendPilot/internal/adapter/otel"
	"github.com/Strob0t/SpendPilot/internal/adapter/postgres"
	"github.com/Strob0t/SpendPilot/internal/adapter/ristretto"
	"github.com/Strob0t/SpendPilot/internal/adapter/tiered"
	"github.com/Strob0t/SpendPilot/internal/adapter/walletapi"
	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/logger"
	"github.com/Strob0t/SpendPilot/internal/middleware"
	agentport "github.com/Strob0t/SpendPilot/internal/port/agent"
	"github.com/Strob0t/SpendPilot/internal/port/cache"
	"github.com/Strob0t/SpendPilot/internal/port/notifier"
	"github.com/Strob0t/SpendPilot/internal/resilience"
	"github.com/Strob0t/SpendPilot/internal/secrets"
	"github.com/Strob0t/SpendPilot/internal/service"
)

const serviceName = "spendpilot"

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOtel, err := spotel.Init(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := spotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")
	store := postgres.NewStore(pool)

	// NATS
	queue, err := spnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Learning read-model cache: ristretto L1 in front of NATS KV L2.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	var learningCache cache.Cache = l1
	if kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL); err != nil {
		slog.Warn("l2 cache unavailable, using l1 only", "bucket", cfg.Cache.L2Bucket, "error", err)
	} else {
		learningCache = tiered.New(l1, natskv.New(kv), cfg.Learning.CacheTTL)
	}

	// Credentials: config < env < mounted secret files. SIGHUP reloads.
	vault, err := newVault(cfg)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	go reloadOnHangup(ctx, vault)

	// --- Services ---

	provider := walletapi.NewClient(cfg.Payments.ProviderURL, vault.Func(secrets.KeyPaymentAPIKey), cfg.Payments.Timeout).
		WithRedactor(vault.RedactString)
	exec := service.NewPaymentExecutor(
		provider,
		store,
		queue,
		resilience.NewPool(cfg.Payments.MaxConcurrent),
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).WithTrips(service.ProviderFault),
		cfg.Agents.PaymentSafetyCeiling,
	)

	catalog := service.DefaultKeywordCatalog()
	if cfg.Agents.KeywordCatalog != "" {
		if catalog, err = service.LoadKeywordCatalog(cfg.Agents.KeywordCatalog); err != nil {
			return fmt.Errorf("keyword catalog: %w", err)
		}
	}
	policy := service.DefaultReimbursementPolicy()
	if cfg.Agents.ReimbursementPolicyFile != "" {
		if policy, err = service.LoadReimbursementPolicy(cfg.Agents.ReimbursementPolicyFile); err != nil {
			return fmt.Errorf("reimbursement policy: %w", err)
		}
	}

	payAgent := service.NewPaymentExecutionAgent(exec, cfg.Agents.InterPaymentDelay)
	reimburseAgent := service.NewSmartReimbursementAgent(exec, policy, &cfg.Agents)
	registry, err := agentport.NewRegistry(
		service.NewRequestValidationAgent(catalog),
		service.NewBudgetGuardianAgent(),
		service.NewUniversalApprovalAgent(&cfg.Agents),
		reimburseAgent,
		payAgent,
	)
	if err != nil {
		return fmt.Errorf("agent registry: %w", err)
	}

	orch, err := service.NewOrchestratorService(registry, service.DefaultWorkflows(), &cfg.Orchestrator)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	learning := service.NewLearningService(cfg.Learning, learningCache, service.NewRandomPlaceholder(nil))
	orch.SetLearning(learning)
	orch.SetQueue(queue)
	orch.SetMetrics(metrics)

	learning.Start(ctx)
	go payAgent.RunScheduler(ctx, cfg.Payments.SchedulerInterval, cfg.Payments.SchedulerBatch)

	cancelFeedback, err := orch.StartFeedbackSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("feedback subscriber: %w", err)
	}
	defer cancelFeedback()

	notifiers, err := buildNotifiers(vault)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	cancelAlerts, err := service.NewAlertService(notifiers, cfg.Notifications).Start(ctx, queue)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	defer cancelAlerts()
	slog.Info("finance alerts configured", "notifiers", len(notifiers))

	// --- HTTP ---

	opts := sphttp.RouteOptions{}
	if cfg.Server.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
		opts.RateLimiter = limiter
	}
	if kv, err := queue.KeyValue(ctx, cfg.Cache.Idempotency, cfg.Cache.IdempotencyTTL); err != nil {
		slog.Warn("idempotency store unavailable, Idempotency-Key ignored", "bucket", cfg.Cache.Idempotency, "error", err)
	} else {
		opts.Idempotency = middleware.Idempotency(kv)
	}

	handlers := &sphttp.Handlers{
		Orchestrator: orch,
		Learning:     learning,
		Payments:     payAgent,
		Reimburse:    reimburseAgent,
		MaxBodySize:  cfg.Server.MaxRequestBodySize,
		Health: []sphttp.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "nats", Check: func(context.Context) error {
				if !queue.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			}},
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(sphttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(sphttp.SecurityHeaders)
	r.Use(sphttp.CORS(cfg.Server.CORSOrigin))
	r.Use(spotel.HTTPMiddleware(serviceName))
	r.Use(chimw.Timeout(60 * time.Second))

	sphttp.MountRoutes(r, handlers, opts)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}
	return nil
}

func newVault(cfg *config.Config) (*secrets.Vault, error) {
	keys := []string{secrets.KeyPaymentAPIKey, secrets.KeySlackWebhookURL, secrets.KeyDiscordWebhookURL}
	return secrets.NewVault(secrets.Chain(
		secrets.StaticLoader(map[string]string{
			secrets.KeyPaymentAPIKey:     cfg.Payments.APIKey,
			secrets.KeySlackWebhookURL:   cfg.Notifications.SlackWebhookURL,
			secrets.KeyDiscordWebhookURL: cfg.Notifications.DiscordWebhookURL,
		}),
		secrets.EnvLoader(keys...),
		secrets.DirLoader(cfg.Payments.SecretsDir, keys...),
	))
}

func reloadOnHangup(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", vault.Keys(), "payment_api_key", vault.Redacted(secrets.KeyPaymentAPIKey))
		}
	}
}

// buildNotifiers creates a notifier for every configured webhook. Webhook
// URLs are read once at startup.
func buildNotifiers(vault *secrets.Vault) ([]notifier.Notifier, error) {
	return notifier.Build(map[string]string{
		"slack":   vault.Get(secrets.KeySlackWebhookURL),
		"discord": vault.Get(secrets.KeyDiscordWebhookURL),
	})
}
