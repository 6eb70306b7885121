// Package main is the entry point for the messagerie domain service: the
// per-installation hub for outbound dispatch, inbound reception, and
// attachment tracking for the federated messaging platform.
//
// Dependencies:
//   - Postgres: messagerie_{incoming,outgoing,outgoing_processing,
//     attachments,profils,contacts,configuration} (document-ish JSONB tables)
//   - NATS JetStream: consumes Messagerie/{transactions,volatils,triggers}.>
//   - Postmaster (HTTP): outbound email/webpush notification hand-off
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/attachments"
	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/consumer"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/dispatcher"
	"github.com/millegrilles/messagerie/internal/edges"
	"github.com/millegrilles/messagerie/internal/inbound"
	"github.com/millegrilles/messagerie/internal/notifier"
	"github.com/millegrilles/messagerie/internal/platform/config"
	"github.com/millegrilles/messagerie/internal/platform/natsclient"
	"github.com/millegrilles/messagerie/internal/platform/telemetry"
	"github.com/millegrilles/messagerie/internal/pump"
	"github.com/millegrilles/messagerie/internal/resolver"
	"github.com/millegrilles/messagerie/internal/scheduler"
	"github.com/millegrilles/messagerie/internal/store"
	"github.com/millegrilles/messagerie/internal/transactions"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		mp, err := telemetry.InitMeterProvider(context.Background(), "messagerie", otelEndpoint)
		if err != nil {
			logger.Error("OTel meter init failed", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			logger.Info("OTel meter initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		vaultAddr = "http://localhost:8200"
	}
	vaultToken := os.Getenv("VAULT_TOKEN")
	if vaultToken == "" {
		vaultToken = "root"
	}
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/messagerie"
	}

	vaultManager, err := config.NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Fatal("Vault connection failed", zap.Error(err))
	}
	secrets, err := vaultManager.GetKV2(secretPath)
	if err != nil {
		logger.Fatal("failed to load secrets", zap.Error(err))
	}

	pgURL, _ := secrets["PG_URL"].(string)
	natsURL, _ := secrets["NATS_URL"].(string)
	postmasterURL, _ := secrets["POSTMASTER_URL"].(string)
	postmasterSecret, _ := secrets["POSTMASTER_SECRET"].(string)

	localIdmg := os.Getenv("LOCAL_IDMG")
	if localIdmg == "" {
		logger.Fatal("LOCAL_IDMG must be set: this installation's own identity is required to distinguish local from remote message origin")
	}
	if os.Getenv("TOPOLOGY_SERVICE_URL") == "" {
		logger.Fatal("TOPOLOGY_SERVICE_URL must be set: DNS-to-IDMG resolution has no fallback")
	}

	poolCfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		logger.Fatal("bad PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("Postgres connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("Postgres connected")

	docStore := store.New(pool)
	if err := docStore.EnsureIndexes(context.Background()); err != nil {
		logger.Fatal("index provisioning failed", zap.Error(err))
	}

	natsClient, err := natsclient.NewClient(natsURL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}
	logger.Info("NATS JetStream ready")

	busGateway := bus.New(natsClient, logger)
	messagePump := pump.New(logger)

	dispatcherSvc := dispatch.New(docStore, busGateway, messagePump, logger)
	receiverSvc := inbound.New(docStore, busGateway, dispatcherSvc, localIdmg, logger)
	trackerSvc := attachments.New(docStore, busGateway, dispatcherSvc, logger)
	resolverSvc := resolver.New(busGateway, docStore, logger)

	tuningPath := os.Getenv("RESOLVER_TUNING_FILE")
	if tuningPath != "" {
		tuning, err := config.LoadResolverTuning(tuningPath)
		if err != nil {
			logger.Warn("resolver tuning file load failed, keeping defaults", zap.Error(err))
		} else if tuning != nil {
			resolverSvc.WithTuning(tuning.MaxAttempts, tuning.Window())
			logger.Info("resolver tuning overridden",
				zap.Int("max_attempts", tuning.MaxAttempts), zap.Int("window_hours", tuning.WindowHours))
		}
	}

	aiguillage := transactions.New(docStore, busGateway, dispatcherSvc, receiverSvc, logger)
	edgesSvc := edges.New(aiguillage, dispatcherSvc, trackerSvc, logger)

	postmasterDsp := dispatcher.NewPostmasterDispatcher(docStore, logger, postmasterURL, postmasterSecret)
	notifierSvc := notifier.New(busGateway, postmasterDsp, logger)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	busConsumer := consumer.New(busGateway, edgesSvc, aiguillage, dispatcherSvc, resolverSvc, trackerSvc, messagePump, logger)
	if err := busConsumer.Start(appCtx); err != nil {
		logger.Fatal("bus consumer start failed", zap.Error(err))
	}
	if err := notifierSvc.Start(appCtx); err != nil {
		logger.Fatal("notifier start failed", zap.Error(err))
	}

	go messagePump.Run(appCtx, func(ctx context.Context, sig pump.Signal) error {
		return resolverSvc.RetrySweep(ctx, dispatcherSvc)
	})

	cronScheduler := scheduler.NewCronScheduler(natsClient, logger)
	if err := cronScheduler.Start(); err != nil {
		logger.Fatal("cron scheduler start failed", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("messagerie"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request", zap.String("URI", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
	edges.NewHTTPHandlers(docStore).Register(e)

	go func() {
		logger.Info("messagerie listening on :8080")
		if err := e.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	appCancel()
	cronScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("messagerie shut down cleanly")
}
