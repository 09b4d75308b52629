package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/agensia/notify-dispatch/external/wagateway"
	"github.com/agensia/notify-dispatch/internal/config"
	"github.com/agensia/notify-dispatch/internal/domain/channel"
	cacherepo "github.com/agensia/notify-dispatch/internal/infrastructure/repository/cache"
	"github.com/agensia/notify-dispatch/internal/infrastructure/repository/postgres"
	"github.com/agensia/notify-dispatch/internal/interfaces/httpapi"
	basecache "github.com/agensia/notify-dispatch/internal/platform/cache"
	idgen "github.com/agensia/notify-dispatch/internal/platform/id"
	"github.com/agensia/notify-dispatch/internal/platform/logging"
	"github.com/agensia/notify-dispatch/internal/platform/resilience"
	"github.com/agensia/notify-dispatch/internal/usecase"
)

// App holds the wired service graph plus the resources that need an ordered
// shutdown.
type App struct {
	Server *http.Server
	DB     *sqlx.DB
}

func New(cfg config.Config, logger *logging.Logger, slogger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if slogger == nil {
		slogger = slog.Default()
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	jobRepo := postgres.NewNotificationJobRepository(db)
	targetResolver := postgres.NewRecipientResolver(db)
	pgSettings := postgres.NewChannelSettingsRepository(db)

	settingsRepo := channel.Repository(pgSettings)
	var invalidator usecase.SettingsInvalidator
	if cfg.CacheEnabled {
		cached := cacherepo.NewChannelSettingsRepository(pgSettings, basecache.NewStore(cfg.CacheTTL))
		settingsRepo = cached
		invalidator = cached
	}

	gateway := wagateway.NewClient(wagateway.Config{
		APIKey:       cfg.GatewayAPIKey,
		Timeout:      cfg.GatewayTimeout,
		VerifyWait:   cfg.ChannelVerifyWait,
		PollInterval: cfg.ChannelPollInterval,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.GatewayCircuitEnabled,
			FailureThreshold: cfg.GatewayCircuitFailureCount,
			OpenTimeout:      cfg.GatewayCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.GatewayCircuitHalfOpenMax,
		},
	}, slogger)

	dispatchSvc := usecase.NewDispatchService(
		jobRepo,
		targetResolver,
		settingsRepo,
		gateway,
		idgen.NewRandomGenerator(),
		usecase.DispatchConfig{
			BatchCap:        cfg.DispatchBatchCap,
			Concurrency:     cfg.DispatchConcurrency,
			MessageTemplate: cfg.DispatchMessageTemplate,
		},
		logger,
	)
	channelSvc := usecase.NewChannelService(settingsRepo, gateway, invalidator, logger)

	handler := httpapi.NewHandler(dispatchSvc, channelSvc, slogger)
	router := httpapi.NewRouter(handler, slogger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	return &App{Server: server, DB: db}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	dsn := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)

	db, err := otelsqlx.Open("postgres", dsn,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
	)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
