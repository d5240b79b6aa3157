package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"querygate/internal/api"
	"querygate/internal/config"
	"querygate/internal/engine"
	"querygate/internal/instances"
	"querygate/internal/middleware"
	"querygate/internal/registry"
	"querygate/internal/resourcepool"
	"querygate/internal/resultguard"
	"querygate/internal/service/execution"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	var resolver *instances.StaticResolver
	if path := os.Getenv("INSTANCES_FILE"); path != "" {
		resolver, err = instances.LoadFile(path)
		if err != nil {
			return err
		}
	} else {
		resolver = instances.NewStaticResolver()
		logger.Warn("INSTANCES_FILE not set, no target instances configured")
	}

	reg := registry.New(cfg.Engine, logger)
	facade := engine.New(cfg.Engine, reg, resolver, logger)
	pool := resourcepool.NewManager(cfg.Scripts, logger)
	guard := resultguard.New(cfg.Results, cfg.Engine.MaxRows)
	scripts := execution.NewService(facade, pool, guard, execution.InlineWorker{}, nil, cfg.Engine.StatementTimeout, logger)

	monitor := reg.StartMonitor(time.Minute)
	defer monitor.Stop()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
	}))

	handler := api.NewHandler(facade, pool, scripts, logger)
	handler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}

		pool.Cleanup()
		facade.CloseAllConnections(shutdownCtx)
		return nil
	})

	return g.Wait()
}
