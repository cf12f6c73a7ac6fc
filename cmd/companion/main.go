package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"careplus/internal/api"
	"careplus/internal/auth"
	"careplus/internal/config"
	"careplus/internal/database"
	"careplus/internal/events"
	"careplus/internal/metrics"
	"careplus/internal/notify"
	"careplus/internal/reminder"
	"careplus/shared/audit"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("COMPANION_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authStore := auth.NewStore(db)
	seedAdmin(ctx, authStore, cfg, &logger)

	bus := events.NewBus()
	sessions := auth.NewManager(auth.Config{
		AdminUsername:   cfg.Auth.AdminUsername,
		AdminPassword:   cfg.Auth.AdminPassword,
		RememberTTL:     cfg.RememberTokenTTL(),
		LoginRatePerMin: cfg.Auth.LoginRatePerMin,
		LoginBurst:      cfg.Auth.LoginBurst,
		CodeExpiry:      time.Duration(cfg.Auth.CodeExpiryMinutes) * time.Minute,
	}, authStore, bus, &logger)

	var store reminder.Store = reminder.NewSQLiteStore(db)
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		store = reminder.NewCachedStore(store, reminder.NewRedisStore(rdb, 24*time.Hour), &logger)
	}

	// The gateway fires into the coordinator and the coordinator
	// schedules through the gateway, so wire the fire func through a
	// late-bound pointer.
	var coordinator *reminder.Coordinator
	gateway := reminder.NewTimerGateway(func(id int, typ reminder.ReminderType) {
		coordinator.HandleWake(id, typ)
	}, time.Local, &logger)
	defer gateway.Close()

	coordinator = reminder.NewCoordinator(reminder.Config{
		Language:      reminder.Language(cfg.Reminders.Language),
		SnoozeDelay:   cfg.SnoozeDelay(),
		EscalateAfter: cfg.EscalateAfter(),
	}, store, gateway, sessions, &logger)
	coordinator.SetAlertSink(db)
	coordinator.BindEvents(bus)

	// Initial reconciliation; with no principal logged in yet this just
	// asserts the empty state.
	if err := coordinator.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("initial reminder reconciliation failed")
	}

	var caregiver *notify.CaregiverNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.CaregiverChatID != 0 {
		caregiver, err = notify.New(cfg.Telegram.BotToken, cfg.Telegram.CaregiverChatID, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create caregiver notifier error")
		}
		coordinator.SetEscalationNotifier(caregiver)
	}

	backup := database.NewBackupService(cfg.Database.Path, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		IntervalHours: cfg.Backup.IntervalHours,
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	if cfg.Audit.Enabled {
		var sender audit.DocumentSender
		if caregiver != nil {
			sender = caregiver
		}
		auditSvc := audit.NewService(&audit.Config{
			ExportPath:    cfg.Audit.ExportPath,
			RetentionDays: cfg.Audit.RetentionDays,
		}, db, sender, &logger)
		auditSvc.Start()
		defer auditSvc.Stop()
	}

	go pruneTokens(ctx, db, &logger)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Msg("companion service started")
	api.NewHTTPServer(cfg.Server.APIPort, sessions, coordinator, &logger).Start(ctx)
}

func seedAdmin(ctx context.Context, store *auth.Store, cfg *config.Config, logger *zerolog.Logger) {
	username := cfg.Auth.AdminUsername
	password := cfg.Auth.AdminPassword
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = "00000000"
	}

	err := store.CreateUser(ctx, username, password, "", auth.AccountTypeAdmin)
	switch {
	case err == nil:
		logger.Info().Str("username", username).Msg("admin account created")
	case errors.Is(err, auth.ErrUserExists):
		// already seeded
	default:
		logger.Fatal().Err(err).Msg("seed admin error")
	}
}

// pruneTokens removes expired remember-me tokens once a day.
func pruneTokens(ctx context.Context, db *database.DB, logger *zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.DeleteExpiredRememberTokens(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("token cleanup error")
				continue
			}
			if n > 0 {
				logger.Info().Int64("deleted", n).Msg("expired remember tokens pruned")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
