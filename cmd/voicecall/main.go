package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/caller"
	"voicecall-server/pkg/config"
	"voicecall-server/pkg/httpapi"
	"voicecall-server/pkg/metrics"
	"voicecall-server/pkg/util"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	metrics.Init(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	service, err := caller.New(rootCtx, logger, cfg, caller.Deps{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build caller service")
	}

	if err := service.Connect(); err != nil {
		logger.WithError(err).Warn("Event stream unavailable at startup, reconnects will follow")
	}

	shutdown := util.NewGracefulShutdown(logger, 30*time.Second)
	shutdown.RegisterFunc("caller", 10, service.Close)

	var httpServer *httpapi.Server
	if cfg.HTTPEnabled {
		httpServer = httpapi.NewServer(logger, httpapi.Config{Port: cfg.HTTPPort}, service)
		shutdown.Register(util.ShutdownResource{
			Name:     "http",
			Priority: 5,
			Shutdown: httpServer.Shutdown,
		})
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.WithError(err).Error("HTTP server failed")
				rootCancel()
			}
		}()
	}

	logger.WithFields(logrus.Fields{
		"http_enabled": cfg.HTTPEnabled,
		"http_port":    cfg.HTTPPort,
		"rate_limit":   cfg.RateLimit,
		"max_calls":    cfg.MaxConcurrentCalls,
	}).Info("Voice call server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case <-rootCtx.Done():
		logger.Info("Root context canceled")
	}

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
