package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/attribution"
	"github.com/sifan077/PowerTrack/internal/app/fraud"
	appmodel "github.com/sifan077/PowerTrack/internal/app/model"
	apprepository "github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/rules"
	appserver "github.com/sifan077/PowerTrack/internal/app/server"
	appservice "github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/sifan077/PowerTrack/internal/app/session"
	infraKafka "github.com/sifan077/PowerTrack/internal/infra/kafka"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	infraNATS "github.com/sifan077/PowerTrack/internal/infra/nats"
	infraPostgres "github.com/sifan077/PowerTrack/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	infraRedis "github.com/sifan077/PowerTrack/internal/infra/redis"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		cfg = &config.Config{}
	}

	log := logger.MustInit(logger.Config{
		Development: !cfg.App.Production(),
		Level:       cfg.App.LogLevel,
		Service:     "powertrack",
	})
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		log.Fatal("Failed to load config", zap.Error(cfgErr))
	}

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("session_store", cfg.Tracking.SessionStore),
		zap.String("attribution_model", cfg.Tracking.AttributionModel),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB,
		&appmodel.ClickEvent{},
		&appmodel.ClickSession{},
		&appmodel.ConversionEvent{},
		&appmodel.ConversionRule{},
		&appmodel.ConversionFraud{},
		&appmodel.ConversionAttribution{},
		&appmodel.TrafficSource{},
		&appmodel.TrackingPixel{},
		&appmodel.WebhookSubscription{},
		&appmodel.WebhookDeadLetter{},
	); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	// Redis backs the session store and the rate limiter; memory sessions
	// without a configured host run without either.
	var redisClient *goredis.Client
	if cfg.Tracking.SessionStore != "memory" || cfg.Redis.Host != "" {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("Connected to Redis successfully")
	}

	clickRepo := apprepository.NewClickEventRepository(gormDB)
	sessionRepo := apprepository.NewSessionRepository(gormDB)
	conversionRepo := apprepository.NewConversionRepository(gormDB)
	ruleRepo := apprepository.NewRuleRepository(gormDB)
	fraudRepo := apprepository.NewFraudRepository(gormDB)
	attributionRepo := apprepository.NewAttributionRepository(gormDB)
	sourceRepo := apprepository.NewTrafficSourceRepository(gormDB)
	pixelRepo := apprepository.NewPixelRepository(gormDB)
	webhookRepo := apprepository.NewWebhookSubscriptionRepository(gormDB)
	deadLetterRepo := apprepository.NewDeadLetterRepository(gormDB)
	analyticsRepo := apprepository.NewAnalyticsRepository(pool)

	var sessions session.Store
	if cfg.Tracking.SessionStore == "memory" {
		sessions = session.NewMemoryStore(cfg.Tracking.SessionTTL)
	} else {
		sessions = session.NewRedisStore(redisClient, cfg.Tracking.SessionTTL)
	}
	sweeper := session.NewSweeper(log, sessions, sessionRepo, cfg.Tracking.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	notifier := appservice.NewNotifier(appservice.NotifierDeps{
		Pixels:      pixelRepo,
		Webhooks:    webhookRepo,
		DeadLetters: deadLetterRepo,
		Config:      cfg.Notifier,
		Logger:      log,
	})

	var queue appservice.NotificationQueue
	if cfg.NATS.Host != "" {
		natsConn, js, err := infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()
		log.Info("Connected to NATS successfully")

		consumer := appservice.NewNotificationConsumer(js, log, notifier)
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start notification consumer", zap.Error(err))
		}
		defer consumer.Wait()
		queue = appservice.NewNotificationPublisher(js)
	} else {
		log.Info("NATS not configured, dispatching notifications in process")
		queue = appservice.NewInlineQueue(notifier, log)
	}

	var settlement appservice.SettlementFeed
	if cfg.Kafka.Enabled() {
		producer, err := infraKafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer producer.Close()
		settlement = producer
		log.Info("Settlement feed enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	ipRisk, err := fraud.NewCIDRRiskChecker(cfg.Fraud.HighRiskCIDRs)
	if err != nil {
		log.Fatal("Invalid high risk CIDR list", zap.Error(err))
	}
	detector := fraud.NewDetector(
		fraud.NewScorer(fraud.ThresholdsFrom(cfg.Fraud)),
		conversionRepo,
		log,
		fraud.WithIPRiskChecker(ipRisk),
		fraud.WithWindows(cfg.Fraud.BurstWindow, cfg.Fraud.AverageOrderWindow),
	)
	calculator := attribution.NewCalculator(
		clickRepo,
		attributionRepo,
		appmodel.AttributionModel(cfg.Tracking.AttributionModel),
		cfg.Tracking.AttributionWindow,
		log,
	)

	clickRecorder := appservice.NewClickRecorder(sessions, sessionRepo, clickRepo, sourceRepo, log)
	conversions := appservice.NewConversionService(appservice.ConversionDeps{
		Clicks:         clickRepo,
		Conversions:    conversionRepo,
		Frauds:         fraudRepo,
		Sources:        sourceRepo,
		Sessions:       sessions,
		SessionArchive: sessionRepo,
		Rules:          rules.NewEngine(ruleRepo, log),
		RuleUsage:      ruleRepo,
		Fraud:          detector,
		Attribution:    calculator,
		Notifications:  queue,
		Settlement:     settlement,
		OrderFilter:    appservice.NewOrderFilter(cfg.Tracking.OrderFilterSize),
		Logger:         log,
	})

	promServer := infraPrometheus.NewServer(cfg.Prometheus)
	go func() {
		log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
		if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
	defer func() {
		if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Failed to close Prometheus server", zap.Error(err))
		}
	}()

	deps := appserver.Dependencies{
		Logger:      log,
		App:         cfg.App,
		RateLimit:   cfg.RateLimit,
		Clicks:      clickRecorder,
		Conversions: conversions,
		Registry:    appservice.NewRegistryService(ruleRepo, pixelRepo, webhookRepo),
		Analytics:   appservice.NewAnalyticsService(analyticsRepo),
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	server := appserver.New(deps)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Fiber shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting HTTP server", zap.String("addr", cfg.App.ListenAddr))
	if err := server.Listen(cfg.App.ListenAddr); err != nil {
		log.Error("Fiber server exited", zap.Error(err))
	}
	stop()
}
