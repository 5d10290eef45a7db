package main

import (
	"context"
	"encoding/json"
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

	"github.com/Strob0t/syncbridge/internal/adapter/discord"
	"github.com/Strob0t/syncbridge/internal/adapter/email"
	sbhttp "github.com/Strob0t/syncbridge/internal/adapter/http"
	sbnats "github.com/Strob0t/syncbridge/internal/adapter/nats"
	"github.com/Strob0t/syncbridge/internal/adapter/natskv"
	sbotel "github.com/Strob0t/syncbridge/internal/adapter/otel"
	"github.com/Strob0t/syncbridge/internal/adapter/postgres"
	"github.com/Strob0t/syncbridge/internal/adapter/ristretto"
	"github.com/Strob0t/syncbridge/internal/adapter/slack"
	"github.com/Strob0t/syncbridge/internal/adapter/tiered"
	"github.com/Strob0t/syncbridge/internal/adapter/ws"
	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/logger"
	"github.com/Strob0t/syncbridge/internal/middleware"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/notifier"
	"github.com/Strob0t/syncbridge/internal/resilience"
	"github.com/Strob0t/syncbridge/internal/secrets"
	"github.com/Strob0t/syncbridge/internal/service"
)

const version = "0.1.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Logging.Level))
	log, logCloser := logger.NewWithLevel(cfg.Logging, level)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"workers", cfg.Sync.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	otelShutdown, err := sbotel.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := sbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

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

	queue, err := sbnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	vault, err := secrets.NewVault(secrets.PrefixEnvLoader(cfg.Secrets.EnvPrefix))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	// Webhook delivery dedupe: process-local L1 in front of the shared KV bucket.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	dedupeKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("dedupe bucket: %w", err)
	}
	dedupe := tiered.New(l1, natskv.New(dedupeKV), cfg.Webhook.DedupeTTL)

	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	// --- Adapters ---

	store := postgres.NewStore(pool)
	entities := postgres.NewEntityRepository(pool, cfg.Entities)

	breakers := service.NewSystemBreakers(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	guard := service.NewAdapterGuard(breakers, cfg.Sync.CallTimeout, metrics)
	catalog := adapter.NewCatalog()
	registerVendors(catalog)
	registry := adapter.NewRegistry(catalog, vault.Resolve, guard.Wrap)

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()
	events := service.NewSyncEvents(queue, hub)

	orch := service.NewOrchestrator(store, entities, registry, conflict.NewDetector(entity.BuiltinSchemas()), cfg.Sync)
	orch.SetEvents(events)
	orch.SetMetrics(metrics)
	orch.SetRedactor(vault)
	orch.SetNotifications(service.NewNotificationService(notifiers(cfg.Notify), cfg.Notify.Events))

	systemSvc := service.NewSystemService(store, registry, breakers, events)
	if err := systemSvc.LoadRegistry(ctx); err != nil {
		return fmt.Errorf("load systems: %w", err)
	}
	policySvc := service.NewPolicyService(store, events, orch.Wake)
	if _, err := policySvc.Seed(ctx, service.PolicyFromConfig(cfg.Sync)); err != nil {
		return fmt.Errorf("seed policy: %w", err)
	}
	conflictSvc := service.NewConflictService(store, events, orch.Wake)
	recordSvc := service.NewRecordService(store)
	triggerSvc := service.NewTriggerService(store, registry, entities, idColumn(cfg.Entities), orch.Wake)
	webhookSvc := service.NewWebhookService(store, registry, dedupe, cfg.Webhook.DedupeTTL, vault.Resolve, orch.Wake)
	webhookSvc.SetMetrics(metrics)

	cancelTrigger, err := triggerSvc.Subscribe(ctx, queue)
	if err != nil {
		return fmt.Errorf("trigger subscriber: %w", err)
	}
	defer cancelTrigger()

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(ctx)
	}()

	// --- HTTP ---

	handlers := &sbhttp.Handlers{
		Systems:   systemSvc,
		Conflicts: conflictSvc,
		Records:   recordSvc,
		Triggers:  triggerSvc,
		Policy:    policySvc,
		Passes:    orch,
		Webhooks:  webhookSvc,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst).Exempt(sbhttp.WebhookPathPrefix, "/health")
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(sbotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(sbhttp.SecurityHeaders)
	r.Use(sbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sbhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)

	r.Get("/health", healthHandler(store, queue, hub, breakers))
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(middleware.Idempotency(natskv.New(idemKV), cfg.Idempotency.TTL))
		sbhttp.MountRoutes(r, handlers, cfg.Webhook)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reload(holder, level, vault)
			}
		}
	}()

	srvErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		stop()
		<-orchDone
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-orchDone
	if drainErr := queue.Drain(); drainErr != nil {
		slog.Warn("nats drain", "error", drainErr)
	}
	return err
}

// reload re-reads configuration on SIGHUP. Only the log level and the
// secrets vault are applied live; everything else needs a restart.
func reload(holder *config.Holder, level *slog.LevelVar, vault *secrets.Vault) {
	if err := holder.Reload(); err != nil {
		slog.Error("config reload failed", "error", err)
	} else {
		cfg := holder.Get()
		level.Set(logger.ParseLevel(cfg.Logging.Level))
		slog.Info("config reloaded", "log_level", cfg.Logging.Level)
	}
	if err := vault.Reload(); err != nil {
		slog.Error("secrets reload failed", "error", err)
		return
	}
	slog.Info("secrets reloaded", "keys", len(vault.Keys()))
}

// notifiers builds the configured operator notification channels.
func notifiers(cfg config.Notify) []notifier.Notifier {
	var out []notifier.Notifier
	if cfg.SlackWebhookURL != "" {
		out = append(out, slack.NewNotifier(cfg.SlackWebhookURL, sbotel.HTTPClient(nil)))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, discord.NewNotifier(cfg.DiscordWebhookURL, sbotel.HTTPClient(nil)))
	}
	if cfg.SMTP.Host != "" {
		out = append(out, email.NewNotifier(cfg.SMTP))
	}
	return out
}

// idColumn returns the snapshot key holding the entity id of each entity type.
func idColumn(tables map[string]config.EntityTable) func(string) string {
	return func(entityType string) string {
		if t, ok := tables[entityType]; ok && t.IDColumn != "" {
			return t.IDColumn
		}
		return "id"
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

type connChecker interface {
	IsConnected() bool
}

// healthHandler reports dependency status. Any failing dependency turns the
// response into a 503.
func healthHandler(db pinger, queue connChecker, hub *ws.Hub, breakers *resilience.BreakerSet) http.HandlerFunc {
	type healthStatus struct {
		Status       string            `json:"status"`
		Version      string            `json:"version"`
		Postgres     string            `json:"postgres"`
		NATS         string            `json:"nats"`
		WSClients    int               `json:"ws_clients"`
		CircuitState map[string]string `json:"circuit_state"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{
			Status:       "ok",
			Version:      version,
			Postgres:     "ok",
			NATS:         "ok",
			WSClients:    hub.ConnectionCount(),
			CircuitState: breakers.States(),
		}
		code := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			slog.Warn("health: postgres ping failed", "error", err)
			status.Postgres, status.Status, code = "unavailable", "degraded", http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.NATS, status.Status, code = "disconnected", "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
