package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"predmaint/config"
	"predmaint/db"
	"predmaint/history"
	qhttp "predmaint/http"
	"predmaint/logging"
	"predmaint/monitoring"
	"predmaint/predictor"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load config
	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	defer logger.Sync()

	if err := run(cfg, configPath, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, configPath string, logger *logging.Logger) error {
	metrics := monitoring.NewMetrics()

	// 2. Load the model artifact once. A failure leaves the service Unready.
	svc := predictor.New(logger.Logger)
	if err := svc.Load(cfg.Model.Path); err != nil {
		logger.Warn("serving without a model; predictions return service_unavailable", zap.String("path", cfg.Model.Path))
	}
	metrics.SetModelReady(svc.Ready())

	// 3. Prediction history
	var store history.Store
	var training qhttp.TrainingHistory
	if cfg.Database.Path != "" {
		s, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("history database unavailable, keeping history in memory only", zap.Error(err))
		} else {
			defer s.Close()
			store = s
			training = s
			logger.Info("database initialized", zap.String("path", cfg.Database.Path))
		}
	}
	hub := monitoring.NewHub(logger.Logger, metrics, originChecker(cfg.HTTP.AllowedOrigins))
	recorder, err := history.NewRecorder(logger.Logger, store, hub, cfg.History.CacheSize)
	if err != nil {
		return err
	}

	alerts := monitoring.NewAlertSystem(logger.Logger, hub, cfg.Alerts)

	// 4. HTTP server
	api := qhttp.NewAPI(qhttp.Deps{
		Logger:    logger.Logger,
		Predictor: svc,
		History:   recorder,
		Training:  training,
		Alerts:    alerts,
		Feed:      hub,
		Metrics:   metrics,
	})
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, api, logger.Logger)

	// 5. Run until a signal arrives or a component fails
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	if _, err := os.Stat(configPath); err == nil {
		g.Go(func() error {
			return config.Watch(ctx, configPath, logger.Logger, func(next *config.Config) {
				if logger.SetLevel(next.Log.Level) {
					logger.Info("log level changed", zap.String("level", logger.Level.String()))
				}
			})
		})
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	return g.Wait()
}

func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}
