package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/alert"
	"tripledash/internal/cache"
	"tripledash/internal/config"
	cronrunner "tripledash/internal/cron"
	"tripledash/internal/db"
	"tripledash/internal/handler"
	"tripledash/internal/lock"
	"tripledash/internal/logger"
	"tripledash/internal/market"
	"tripledash/internal/metrics"
	gormrepository "tripledash/internal/repository/gorm"
	"tripledash/internal/service"
	signalengine "tripledash/internal/signal"
)

func main() {
	// .env is optional; real deployments pass everything via environment.
	_ = godotenv.Load()

	cfgPath := os.Getenv("TD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("TD_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(cfg.Tickers) == 0 {
		logger.Fatal("no tickers configured")
	}
	tickers := make([]string, 0, len(cfg.Tickers))
	for _, t := range cfg.Tickers {
		tickers = append(tickers, strings.ToUpper(t.Symbol))
	}

	zone, err := time.LoadLocation(cfg.Signal.Timezone)
	if err != nil {
		logger.Fatal("invalid exchange timezone", zap.String("tz", cfg.Signal.Timezone), zap.Error(err))
	}

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	broker := &market.BrokerClient{
		HTTP:      &http.Client{Timeout: cfg.Broker.Timeout},
		Logger:    logger,
		BaseURL:   cfg.Broker.BaseURL,
		AppKey:    cfg.Broker.AppKey,
		AppSecret: cfg.Broker.AppSecret,
		Exchanges: cfg.Broker.Exchanges,
	}
	history := &market.HistoryClient{
		HTTP:    &http.Client{Timeout: cfg.History.Timeout},
		Logger:  logger,
		BaseURL: cfg.History.BaseURL,
		APIKey:  cfg.History.APIKey,
	}
	source := &market.CompositeSource{
		Broker:  broker,
		History: history,
		Repo:    store,
		Logger:  logger,
	}

	marketCache := cache.NewMarket(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.TTL, logger)
	defer marketCache.Close()

	cycles := &signalengine.CycleManager{Repo: store, Logger: logger}
	sink := &alert.Sink{
		Repo: store,
		Sender: &alert.VendorClient{
			HTTP:  &http.Client{Timeout: cfg.SMS.Timeout},
			URL:   cfg.SMS.URL,
			Token: cfg.SMS.Token,
		},
		Settings:    settingsSvc,
		Logger:      logger,
		To:          cfg.SMS.To,
		Suppression: cfg.SMS.Suppression,
	}
	evaluator := &signalengine.Evaluator{
		Source:      source,
		Repo:        store,
		Cycles:      cycles,
		Sink:        sink,
		Settings:    settingsSvc,
		Cache:       marketCache,
		Logger:      logger,
		BreakoutPct: cfg.Signal.BreakoutPct,
		TrailingPct: cfg.Signal.TrailingPct,
		Lookback:    cfg.Signal.CandleLookback,
		Zone:        zone,
		Tickers:     tickers,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	statusHandler := &handler.StatusHandler{Repo: store, Cache: marketCache, Tickers: tickers}
	statusHandler.Register(engine)
	tradeHandler := &handler.TradeHandler{Repo: store, Cycles: cycles, Zone: zone, Logger: logger}
	tradeHandler.Register(engine)
	alertsHandler := &handler.AlertsHandler{Repo: store}
	alertsHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only the lock holder runs the scheduler; extra processes serve HTTP only.
	fileLock, held, err := lock.Acquire(cfg.Lock.Path)
	if err != nil {
		logger.Fatal("lock acquire failed", zap.String("path", cfg.Lock.Path), zap.Error(err))
	}
	if held {
		defer fileLock.Release()
		metrics.EngineUp.Set(1)

		cronRunner := cronrunner.New(logger, ctx)
		if _, err := cronRunner.Add(cfg.Signal.TickSpec, evaluator.Tick); err != nil {
			logger.Fatal("cron register evaluator failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Signal.TokenSpec, func(ctx context.Context) {
			if err := broker.RefreshToken(ctx); err != nil {
				logger.Warn("broker token refresh failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register token refresh failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Signal.HeartbeatSpec, func(ctx context.Context) {
			if !settingsSvc.IsEnabled(ctx, service.FeatureHeartbeat, false) {
				return
			}
			if _, err := sink.Emit(ctx, "SYSTEM", alert.KindHeartbeat, decimal.Zero, "alive"); err != nil {
				logger.Warn("heartbeat emit failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register heartbeat failed", zap.Error(err))
		}

		if err := broker.RefreshToken(ctx); err != nil {
			logger.Warn("initial broker token refresh failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	} else {
		logger.Info("scheduler lock held elsewhere, serving http only", zap.String("path", cfg.Lock.Path))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	metrics.EngineUp.Set(0)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
