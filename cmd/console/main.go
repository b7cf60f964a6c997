package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/signoff/internal/audit"
	"github.com/xela07ax/signoff/internal/console/handler"
	"github.com/xela07ax/signoff/internal/console/server"
	"github.com/xela07ax/signoff/internal/console/service"
	"github.com/xela07ax/signoff/internal/infra"
	"github.com/xela07ax/signoff/internal/infra/auth"
	"github.com/xela07ax/signoff/internal/repository/postgres"
	decisions "github.com/xela07ax/signoff/internal/signal"
	"github.com/xela07ax/signoff/internal/workflow"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. RSA ключи: приватный для подписи токенов, публичный для проверки
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to load private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 3. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewRepo(context.Background(), cfg.Database)
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancelPing()

	// Схему владеет control plane: миграции накатываются здесь
	if err := repo.RunMigrations(cfg.Database.URL); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	// Явный идемпотентный bootstrap стартового reviewer'а
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 5*time.Second)
	if err := service.Bootstrap(bootCtx, repo, cfg.Auth, logger); err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	cancelBoot()

	// 4. Журнал решений
	trail := audit.NewTrail(repo, logger, cfg.Audit.BufferSize, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	trail.Start()

	// 5. Инициализация слоев (Dependency Injection)
	guard := workflow.NewStoreGuard(repo, workflow.GuardConfig{
		SubmitRate:  cfg.Workflow.SubmitRate,
		SubmitBurst: cfg.Workflow.SubmitBurst,
		CBInterval:  cfg.Breaker.Interval,
		CBTimeout:   cfg.Breaker.Timeout,
	}, nil)
	publisher := decisions.NewPublisher(rdb, logger)
	svc := workflow.NewService(guard, publisher, trail, logger)

	authService := service.NewAuthService(repo, privateKey, cfg.Auth.TokenTTL)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewApprovalHandler(svc),
		handler.NewDashboardHandler(repo),
		handler.NewAuditHandler(repo),
	)

	// Метрики процесса консоли
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.Console.Host, cfg.Console.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 6. Запуск сервера + Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Console.Addr(),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	trail.Stop()
	logger.Info("console exited properly")
}
