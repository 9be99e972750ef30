// Package main - точка входа фонового процесса леджера.
//
// Worker выполняет периодические задачи:
// - пересчёт сохранённых статусов оплаты по мере старения взносов
// - ежедневная сводка задолженности в лог
//
// С флагом -migrate=up|down|status worker выполняет действие над схемой
// postgres и завершается.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/academy-hub/tuition-ledger/config"
	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/application/eventhandler"
	"github.com/academy-hub/tuition-ledger/internal/application/query"
	"github.com/academy-hub/tuition-ledger/internal/bootstrap"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/scheduler"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/scheduler/jobs"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

func main() {
	migrate := flag.String("migrate", "", "run a schema action and exit: up, down or status")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *migrate); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, migrate string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg, "worker")

	if migrate != "" {
		action, err := bootstrap.ParseMigrateAction(migrate)
		if err != nil {
			return err
		}
		return bootstrap.Migrate(ctx, cfg, log.With(logger.Operation("migrate")), action)
	}

	log.Info("starting tuition ledger worker",
		logger.String("timezone", cfg.App.Timezone),
		logger.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
	)

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler is disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ИНФРАСТРУКТУРА
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	// Переходы в Overdue из пересчёта уходят в уведомления.
	statusHandler := eventhandler.NewOnStatusChangedHandler(nil, log, eventhandler.DefaultStatusChangedConfig())
	if err := statusHandler.Register(infra.Bus); err != nil {
		return fmt.Errorf("register status handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:            log,
		Timezone:          cfg.App.Location,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})

	refresher := command.NewRefreshStatusesHandler(infra.Store, infra.CommandDependencies(),
		command.RefreshStatusesHandlerConfig{LockTimeout: cfg.Ledger.LockTimeout})
	refreshJob := jobs.NewRefreshStatusJob(refresher, log, jobs.DefaultRefreshStatusConfig())

	refreshSchedule, err := statusRefreshSchedule(cfg.Scheduler)
	if err != nil {
		return err
	}
	if err := sched.Register(refreshJob, refreshSchedule); err != nil {
		return fmt.Errorf("register %s: %w", refreshJob.Name(), err)
	}
	if !cfg.Features.IsEnabled(config.FeatureStatusRefresh) {
		_ = sched.SetEnabled(refreshJob.Name(), false)
		log.Info("status refresh disabled by feature flag")
	}

	digestJob := jobs.NewDueDigestJob(query.NewGetSummaryHandler(infra.QueryDependencies()), log)
	if err := sched.Register(digestJob, scheduler.MustParseCron(scheduler.EveryDayMidnight)); err != nil {
		return fmt.Errorf("register %s: %w", digestJob.Name(), err)
	}

	for _, job := range sched.ListJobs() {
		log.Info("job registered",
			logger.String("job", job.Name),
			logger.String("schedule", job.Schedule),
			logger.Bool("enabled", job.Enabled),
		)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	// Stop отменяет контекст идущих задач и ждёт их завершения.
	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop failed", logger.Err(err))
	}

	snap := sched.Metrics().Snapshot()
	log.Info("shutdown completed successfully",
		logger.Int64("runs", snap.TotalExecutions),
		logger.Int64("failures", snap.TotalFailures),
	)
	return nil
}

// statusRefreshSchedule: cron-выражение, если задано, иначе интервал.
func statusRefreshSchedule(cfg config.SchedulerConfig) (scheduler.Schedule, error) {
	if cfg.StatusRefreshCron != "" {
		s, err := scheduler.ParseSchedule(cfg.StatusRefreshCron)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_STATUS_REFRESH_CRON: %w", err)
		}
		return s, nil
	}
	s, err := scheduler.NewIntervalSchedule(cfg.StatusRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_STATUS_REFRESH_INTERVAL: %w", err)
	}
	return s, nil
}
