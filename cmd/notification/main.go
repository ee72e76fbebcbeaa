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

	"github.com/avkuzmin/cryptofolio/internal/notification/application"
	"github.com/avkuzmin/cryptofolio/internal/notification/domain"
	"github.com/avkuzmin/cryptofolio/internal/notification/infrastructure/persistence/mysql"
	"github.com/avkuzmin/cryptofolio/internal/notification/infrastructure/sender"
	"github.com/avkuzmin/cryptofolio/internal/notification/interfaces/consumer"
	notificationhttp "github.com/avkuzmin/cryptofolio/internal/notification/interfaces/http"
	"github.com/avkuzmin/cryptofolio/pkg/config"
	"github.com/avkuzmin/cryptofolio/pkg/db"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
	"github.com/avkuzmin/cryptofolio/pkg/middleware"
	"github.com/avkuzmin/cryptofolio/pkg/mq"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/notification/config.toml", "path to config file")
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

	if err := database.AutoMigrate(&domain.Notification{}, &domain.Recipient{}); err != nil {
		logger.Fatal(ctx, "failed to migrate schema", "error", err)
	}

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go m.Serve(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	notificationRepo := mysql.NewNotificationRepository(database)
	recipientRepo := mysql.NewRecipientRepository(database)
	smtpSender := sender.NewSMTPSender(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
		cfg.SMTP.From,
	)
	svc := application.NewNotificationService(notificationRepo, recipientRepo, smtpSender)

	kafkaConsumer := mq.NewConsumer(mq.Config{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	})
	consumer.NewEventHandler(svc).Register(kafkaConsumer)

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
	notificationhttp.NewNotificationHandler(svc).RegisterRoutes(api)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "notification service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down notification service")

	stopConsumer()
	kafkaConsumer.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown failed", "error", err)
	}
	logger.Info(ctx, "notification service stopped")
}
