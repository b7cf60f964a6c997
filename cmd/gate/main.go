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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/signoff/internal/audit"
	"github.com/xela07ax/signoff/internal/gate"
	"github.com/xela07ax/signoff/internal/infra"
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

	// 2. Инфраструктура и ресурсы
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

	// Проверяем соединение с таймаутом (схему накатывает консоль)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancelPing()

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := gate.NewMetrics(reg)

	// 4. Журнал решений (асинхронный, с финальным Flush на остановке)
	trail := audit.NewTrail(repo, logger, cfg.Audit.BufferSize, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	trail.Start()

	// Заполненность буфера журнала — в метрики
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.TrailBufferFill.Set(float64(trail.Buffered()))
			}
		}
	}()

	// 5. Ядро workflow: защитная обвязка хранилища + сигналы решений
	guard := workflow.NewStoreGuard(repo, workflow.GuardConfig{
		SubmitRate:  cfg.Workflow.SubmitRate,
		SubmitBurst: cfg.Workflow.SubmitBurst,
		CBInterval:  cfg.Breaker.Interval,
		CBTimeout:   cfg.Breaker.Timeout,
	}, func(name string, from, to gobreaker.State) {
		state := 0.0
		if to == gobreaker.StateOpen {
			state = 1.0
		}
		metrics.BreakerState.WithLabelValues(name).Set(state)
		logger.Warn("store breaker state changed",
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})

	publisher := decisions.NewPublisher(rdb, logger)
	svc := workflow.NewService(guard, publisher, trail, logger)

	// 6. DecisionHub: живучая подписка на сигналы для long-poll
	hub := gate.NewDecisionHub(rdb, logger)
	go hub.Run(appCtx)

	// 7. HTTP Server
	handler := gate.NewHandler(svc, hub, cfg.Workflow, metrics, logger)
	srv := &http.Server{
		Addr:         cfg.Gate.Addr(),
		Handler:      gate.NewRouter(handler),
		ReadTimeout:  cfg.Gate.ReadTimeout,
		WriteTimeout: cfg.Gate.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus на отдельном листенере
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf("%s:%d", cfg.Gate.Host, cfg.Gate.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("gate stopping...")

	// Даем время на завершение висящих long-poll запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Workflow.MaxWait+5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()      // Останавливаем hub и фоновые горутины
	trail.Stop()  // Финальный Flush журнала
	logger.Info("gate exited properly")
}
