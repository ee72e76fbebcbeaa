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

	"github.com/avkuzmin/cryptofolio/internal/portfolio/application"
	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/internal/portfolio/infrastructure/messaging"
	"github.com/avkuzmin/cryptofolio/internal/portfolio/infrastructure/persistence/mysql"
	portfolioredis "github.com/avkuzmin/cryptofolio/internal/portfolio/infrastructure/persistence/redis"
	"github.com/avkuzmin/cryptofolio/internal/portfolio/interfaces/consumer"
	portfoliohttp "github.com/avkuzmin/cryptofolio/internal/portfolio/interfaces/http"
	"github.com/avkuzmin/cryptofolio/pkg/cache"
	"github.com/avkuzmin/cryptofolio/pkg/config"
	"github.com/avkuzmin/cryptofolio/pkg/db"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
	"github.com/avkuzmin/cryptofolio/pkg/middleware"
	"github.com/avkuzmin/cryptofolio/pkg/mq"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/portfolio/config.toml", "path to config file")
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

	if err := database.AutoMigrate(
		&domain.Portfolio{},
		&domain.PortfolioAsset{},
		&domain.Transaction{},
		&domain.Asset{},
		&domain.User{},
	); err != nil {
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

	kafkaCfg := mq.Config{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(kafkaCfg)
	defer producer.Close()

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go m.Serve(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	ledgerRepo := mysql.NewLedgerRepository(database)
	assetRepo := mysql.NewAssetRepository(database)
	userRepo := mysql.NewUserRepository(database)
	marketCache := portfolioredis.NewMarketDataCache(redisCache)
	publisher := messaging.NewKafkaEventPublisher(producer)

	portfolioSvc := application.NewPortfolioService(ledgerRepo, userRepo, marketCache)
	transactionSvc := application.NewTransactionService(ledgerRepo, m)
	valuationSvc := application.NewValuationService(ledgerRepo, marketCache, m)
	assetSvc := application.NewAssetService(assetRepo)

	monitorCfg := application.DefaultMonitorConfig()
	if cfg.Monitoring.PriceChangeThreshold > 0 {
		monitorCfg.ThresholdPercent = cfg.Monitoring.PriceChangeThreshold
	}
	if cfg.Monitoring.CheckIntervalMinutes > 0 {
		monitorCfg.CheckInterval = time.Duration(cfg.Monitoring.CheckIntervalMinutes) * time.Minute
	}
	monitor := application.NewPriceMonitor(ledgerRepo, marketCache, publisher, monitorCfg, m)
	if err := monitor.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start price monitor", "error", err)
	}

	userEvents := consumer.NewUserEventHandler(userRepo, ledgerRepo)
	kafkaConsumer := mq.NewConsumer(kafkaCfg)
	userEvents.Register(kafkaConsumer)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	go func() {
		if err := kafkaConsumer.Run(consumerCtx); err != nil {
			logger.Error(consumerCtx, "kafka consumer stopped", "error", err)
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
	api.Use(middleware.JWTAuth(cfg.Auth.Secret))
	portfoliohttp.NewPortfolioHandler(portfolioSvc, transactionSvc, valuationSvc, assetSvc, monitor).
		RegisterRoutes(api)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "portfolio service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down portfolio service")

	if err := monitor.Stop(); err != nil {
		logger.Warn(ctx, "price monitor stop", "error", err)
	}
	stopConsumer()
	kafkaConsumer.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown failed", "error", err)
	}
	logger.Info(ctx, "portfolio service stopped")
}
