package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/handlers"
	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/app"
	"github.com/Financial-Management-System/FMS-sub000/internal/config"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs/inmemory"
	"github.com/Financial-Management-System/FMS-sub000/internal/logger"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FMS_CONFIG"), "Path to JSON or YAML config (or set FMS_CONFIG)")
		addr       = flag.String("addr", "", "Listen address, overrides api.addr")
	)
	flag.Parse()

	boot := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	log := logger.NewFromConfig(cfg.Logging)
	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("API server failed")
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM. Everything it opens is closed before it returns.
func run(cfg *config.Config, log zerolog.Logger) error {
	svc, err := app.Open(context.Background(), cfg, log)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close services")
		}
	}()

	// Run history is kept for the lifetime of the process.
	handler := newHandler(cfg.API, svc, inmemory.NewStore(), log)

	readTimeout, writeTimeout, idleTimeout := cfg.API.Timeouts()
	server := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Str("storage", cfg.Storage.Driver).Msg("Starting API server")
		serveErr <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", cfg.API.Addr, err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server exited")
	return nil
}

// newHandler wires the routes and the middleware chain.
func newHandler(cfg config.APIConfig, svc *app.Services, jobStore jobs.JobStore, log zerolog.Logger) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(cfg.RunRatePerSec), cfg.RunRateBurst)
	cronToken := middleware.CronToken(cfg.CronToken)
	if cfg.CronToken == "" {
		log.Warn().Msg("No cron token configured - the run endpoint is unauthenticated")
	}

	router := handlers.Router{
		Runs:         handlers.NewRunsHandler(svc.Runner, svc.Archiver, jobStore, log),
		Templates:    handlers.NewTemplatesHandler(templates.NewService(svc.Store, log), log),
		Transactions: handlers.NewTransactionsHandler(svc.Store, log),
		Jobs:         handlers.NewJobsHandler(jobStore, log),
		RunGuard: func(next http.Handler) http.Handler {
			return cronToken(middleware.RateLimit(limiter)(next))
		},
	}

	return middleware.RequestID(
		middleware.Recovery(log)(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Tenant(router.Mux()),
				),
			),
		),
	)
}
