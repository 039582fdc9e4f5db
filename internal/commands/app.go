// Package commands implements the cryptoflow CLI.
package commands

import (
	"context"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/avolkov/cryptoflow/internal/config"
	"github.com/avolkov/cryptoflow/internal/keystore"
	"github.com/avolkov/cryptoflow/internal/metrics"
	"github.com/avolkov/cryptoflow/internal/pipeline"
	"github.com/avolkov/cryptoflow/internal/tracing"
	"github.com/avolkov/cryptoflow/internal/tune"
)

// app holds the long-lived collaborators shared by the subcommands.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	sink  pipeline.TimingSink
	store keystore.Store
	tuner *tune.Tuner

	shutdownTracing func(context.Context) error
}

// newApp wires logging, configuration, metrics, tracing and the key store.
// Initialization order matters: the logger first, so every later failure is
// reported structured.
func newApp(configPath string) (*app, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	a := &app{cfg: cfg, log: logger}

	if cfg.Metrics.Enabled {
		m := metrics.NewMetrics()
		a.sink = m
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				logger.WithError(err).Error("Metrics endpoint failed")
			}
		}()
		logger.WithField("addr", cfg.Metrics.ListenAddr).Info("Metrics endpoint enabled")
	}

	shutdown, err := tracing.Init(&cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	a.shutdownTracing = shutdown

	if cfg.Keys.StorePath != "" {
		a.store, err = keystore.Open(cfg.Keys.StorePath, logger)
	} else {
		a.store, err = keystore.OpenInMemory(logger)
	}
	if err != nil {
		return nil, err
	}

	a.tuner = tune.NewTuner(tune.Options{
		MinChunkSize:   cfg.Pipeline.MinChunkSize,
		MaxChunkSize:   cfg.Pipeline.MaxChunkSize,
		SampleSize:     cfg.Pipeline.TuneSampleSize,
		FixedWorkers:   cfg.Pipeline.Workers,
		FixedChunkSize: cfg.Pipeline.ChunkSize,
	}, logger)

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close key store")
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.log.WithError(err).Error("Failed to flush traces")
		}
	}
}

// orchestrator builds a pipeline over the given content provider.
func (a *app) orchestrator(provider pipeline.ContentProvider) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(provider, a.store, a.tuner, a.sink, a.cfg.Pipeline, a.cfg.Keys, a.log)
}

// password resolves the batch password from the flag or the environment.
func password(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CRYPTOFLOW_PASSWORD")
}
