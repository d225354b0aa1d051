package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/app"
	"github.com/Financial-Management-System/FMS-sub000/internal/config"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs/inmemory"
	"github.com/Financial-Management-System/FMS-sub000/internal/logger"
	"github.com/Financial-Management-System/FMS-sub000/internal/trigger"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FMS_CONFIG"), "Path to JSON or YAML config (or set FMS_CONFIG)")
		runNow     = flag.Bool("run-now", false, "Publish one run immediately after startup")
	)
	flag.Parse()

	boot := logger.New()
	if *configPath == "" {
		boot.Warn().Msg("No config file given - using defaults, hot reload disabled")
	}

	mgr := config.NewManager(*configPath, boot)
	cfg, err := loadConfig(mgr, *configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.NewFromConfig(cfg.Logging)

	// Storage and lock backends are fixed for the life of the process.
	mgr.SetValidator(func(ctx context.Context, next *config.Config) error {
		if !reflect.DeepEqual(next.Storage, cfg.Storage) || !reflect.DeepEqual(next.Lock, cfg.Lock) {
			return errors.New("storage and lock settings require a restart")
		}
		return nil
	})

	if err := run(mgr, cfg, *configPath != "", *runNow, log); err != nil {
		log.Error().Err(err).Msg("Worker service failed")
		os.Exit(1)
	}
}

// run hosts the trigger, queue and runner until SIGINT or SIGTERM. Everything
// it opens is closed before it returns.
func run(mgr *config.Manager, cfg *config.Config, watch, runNow bool, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close services")
		}
	}()

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(cfg.Queue.BufferSize, jobStore, log,
		inmemory.WithWorkers(cfg.Queue.Workers),
		inmemory.WithMaxRetries(cfg.Queue.MaxRetries),
	)
	if err := queue.Start(ctx, app.RunJobHandler(svc.Runner, svc.Archiver, log)); err != nil {
		return fmt.Errorf("start job consumer: %w", err)
	}

	sched := trigger.New(queue, log)
	applySchedule(sched, cfg.Scheduler, log)

	if watch {
		updates := mgr.Subscribe(1)
		go func() {
			if err := mgr.Watch(ctx); err != nil {
				log.Error().Err(err).Msg("Config watcher stopped")
			}
		}()
		go func() {
			for next := range updates {
				applySchedule(sched, next.Scheduler, log)
			}
		}()
	}

	if runNow {
		if err := sched.Fire(ctx, cfg.Scheduler.BatchLimit); err != nil {
			log.Error().Err(err).Msg("Failed to publish startup run")
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify READY failed")
	} else if ok {
		log.Debug().Msg("Notified systemd: ready")
	}

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("lock", cfg.Lock.Driver).
		Time("next_run", sched.Next()).
		Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}
	// Stop the queue and wait for in-flight runs before cancelling their context.
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
	return nil
}

func loadConfig(mgr *config.Manager, path string) (*config.Config, error) {
	if path == "" {
		return config.Load("")
	}
	return mgr.Load()
}

// applySchedule installs the configured cron schedule, or stops the trigger
// when scheduling is disabled.
func applySchedule(sched *trigger.Scheduler, cfg config.SchedulerConfig, log zerolog.Logger) {
	if !cfg.Enabled {
		if err := sched.Stop(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to stop scheduler")
		}
		log.Info().Msg("Recurrence schedule disabled")
		return
	}
	err := sched.Apply(trigger.Settings{
		Spec:     cfg.Spec,
		Timezone: cfg.Timezone,
		Limit:    cfg.BatchLimit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Rejected recurrence schedule")
		return
	}
	sched.Start()
}
