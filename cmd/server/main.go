package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/authz"
	"github.com/hongminglow/pipeline-crm/internal/config"
	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/logging"
	"github.com/hongminglow/pipeline-crm/internal/mail"
	"github.com/hongminglow/pipeline-crm/internal/notify"
	"github.com/hongminglow/pipeline-crm/internal/realtime"
	"github.com/hongminglow/pipeline-crm/internal/server"
	"github.com/hongminglow/pipeline-crm/internal/storage"
	"github.com/hongminglow/pipeline-crm/internal/storage/memstore"
	"github.com/hongminglow/pipeline-crm/internal/storage/postgres"
)

func main() {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("init storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	defer store.Close()

	bus := events.NewBus(logger)
	if cfg.AMQPURL != "" {
		sink, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("connect to amqp", zap.Error(err))
		}
		bus.AddSink(sink)
		logger.Info("forwarding events to amqp", zap.String("exchange", cfg.AMQPExchange))
	}

	var mailer mail.Mailer = mail.NewLogMailer(logger)
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}
	notify.Register(bus, mailer, logger)

	hub := realtime.NewHub(logger)
	hub.Attach(bus)

	enforcer, err := authz.NewEnforcer(ctx, store)
	if err != nil {
		logger.Fatal("load role policies", zap.Error(err))
	}

	srv := server.New(server.Deps{
		Config:   cfg,
		Store:    store,
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Enforcer: enforcer,
		Bus:      bus,
		Hub:      hub,
		Mailer:   mailer,
		Logger:   logger,
	})

	go func() {
		logger.Info("crm backend listening", zap.String("addr", cfg.HTTPAddress()), zap.String("storage", cfg.StorageDriver))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
	hub.Close()
	bus.Close()
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.StorageDriver == config.DriverMemory {
		return memstore.New(), nil
	}
	return postgres.NewStore(ctx, cfg.DatabaseURL)
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}
}
