package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avkuzmin/cryptofolio/internal/marketdata/application"
	"github.com/avkuzmin/cryptofolio/internal/marketdata/domain"
	"github.com/avkuzmin/cryptofolio/internal/marketdata/infrastructure/coingecko"
	"github.com/avkuzmin/cryptofolio/internal/marketdata/infrastructure/persistence/mysql"
	marketredis "github.com/avkuzmin/cryptofolio/internal/marketdata/infrastructure/persistence/redis"
	markethttp "github.com/avkuzmin/cryptofolio/internal/marketdata/interfaces/http"
	"github.com/avkuzmin/cryptofolio/pkg/cache"
	"github.com/avkuzmin/cryptofolio/pkg/config"
	"github.com/avkuzmin/cryptofolio/pkg/db"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
	"github.com/avkuzmin/cryptofolio/pkg/middleware"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/marketdata/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	database, err := db.Init(db.Config{
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to connect database", "error", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(&domain.TrackedAsset{}); err != nil {
		logger.Fatal(ctx, "failed to migrate schema", "error", err)
	}

	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to connect redis", "error", err)
	}
	defer redisCache.Close()

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go m.Serve(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	assetRepo := mysql.NewTrackedAssetRepository(database)
	quoteStore := marketredis.NewQuoteStore(redisCache)
	provider := coingecko.New(cfg.MarketData.APIURL, cfg.MarketData.APIKey)
	ingest := application.NewIngestService(assetRepo, provider, quoteStore, m)

	interval := 3 * time.Minute
	if cfg.MarketData.FetchIntervalMinutes > 0 {
		interval = time.Duration(cfg.MarketData.FetchIntervalMinutes) * time.Minute
	}
	scheduler, err := application.NewScheduler(ctx, ingest, interval)
	if err != nil {
		logger.Fatal(ctx, "failed to build scheduler", "error", err)
	}
	scheduler.Start()

	// Warm the cache before the first scheduled tick.
	go func() {
		if err := ingest.FetchAndStore(ctx); err != nil {
			logger.Warn(ctx, "initial price fetch failed", "error", err)
		}
	}()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogging(), middleware.Recovery(), middleware.Observe(m))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	api := router.Group("/api/v1")
	markethttp.NewMarketDataHandler(ingest).RegisterRoutes(api)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "market data service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down market data service")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown failed", "error", err)
	}
	logger.Info(ctx, "market data service stopped")
}
