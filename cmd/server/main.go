// Package main - точка входа HTTP API леджера оплаты обучения.
//
// Сервер принимает зачисления, платежи и переводы между циклами и отдаёт
// леджер, списки задолженности, график взносов и сводку.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/academy-hub/tuition-ledger/config"
	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/application/eventhandler"
	"github.com/academy-hub/tuition-ledger/internal/application/query"
	"github.com/academy-hub/tuition-ledger/internal/bootstrap"
	httpserver "github.com/academy-hub/tuition-ledger/internal/interface/http"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg, "server")
	log.Info("starting tuition ledger API",
		logger.String("timezone", cfg.App.Timezone),
		logger.String("storage", cfg.Ledger.Storage),
		logger.Any("features", cfg.Features.EnabledNames()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ИНФРАСТРУКТУРА (БД, REDIS, EVENT BUS)
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	cdeps := infra.CommandDependencies()
	qdeps := infra.QueryDependencies()

	promoteCfg := command.DefaultPromoteStudentsHandlerConfig()
	promoteCfg.LockTimeout = cfg.Ledger.LockTimeout
	promoteCfg.Concurrency = cfg.Ledger.PromotionConcurrency
	promoteCfg.Parallel = cfg.Features.IsEnabled(config.FeatureParallelPromotion)

	deps := httpserver.Dependencies{
		AdmitStudent: command.NewAdmitStudentHandler(cdeps, infra.FeeStructures,
			command.AdmitStudentHandlerConfig{LockTimeout: cfg.Ledger.LockTimeout}),
		RecordPayment: command.NewRecordPaymentHandler(cdeps,
			command.RecordPaymentHandlerConfig{LockTimeout: cfg.Ledger.LockTimeout}),
		PromoteStudents: command.NewPromoteStudentsHandler(cdeps, promoteCfg),

		GetLedger:              query.NewGetLedgerHandler(qdeps, cfg.Ledger.SnapshotCacheTTL),
		GetDueList:             query.NewGetDueListHandler(qdeps),
		GetInstallmentSchedule: query.NewGetInstallmentScheduleHandler(qdeps),
		GetSummary:             query.NewGetSummaryHandler(qdeps),
		GetPaymentHistory:      query.NewGetPaymentHistoryHandler(qdeps),

		Logger:        log,
		HealthChecker: infra.Health,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if err := eventhandler.NewAuditHandler(log).Register(infra.Bus); err != nil {
		return fmt.Errorf("register audit handler: %w", err)
	}
	statusHandler := eventhandler.NewOnStatusChangedHandler(nil, log, eventhandler.DefaultStatusChangedConfig())
	if err := statusHandler.Register(infra.Bus); err != nil {
		return fmt.Errorf("register status handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.RateLimit = cfg.HTTP.RateLimit
	httpCfg.RateLimitWindow = cfg.HTTP.RateLimitWindow

	server := httpserver.NewServer(httpCfg, deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// Сначала перестаём принимать запросы, затем закрываются шина и БД (defer).
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed successfully")
	return nil
}
