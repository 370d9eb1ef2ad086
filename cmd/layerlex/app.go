package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"layerlex/internal/config"
	"layerlex/internal/metrics"
	"layerlex/internal/repository/sqlite"
	"layerlex/internal/service"
)

// app is the engine assembled from configuration
type app struct {
	cfg      *config.Config
	location config.Location
	log      *logrus.Logger
	repo     *sqlite.Repository
	svc      *service.ClassifierService
}

// loadConfig reads the config file and applies flag overrides
func loadConfig(opts *rootOptions) (*config.Config, config.Location, error) {
	cfg, loc, err := config.Load(opts.configPath)
	if err != nil {
		return nil, loc, err
	}

	if opts.driver != "" {
		cfg.Database.Driver = opts.driver
	}
	if opts.dsn != "" {
		cfg.Database.DSN = opts.dsn
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, loc, err
	}
	return cfg, loc, nil
}

// openApp builds the engine and loads the initial snapshot
func openApp(ctx context.Context, opts *rootOptions, logOut io.Writer, m metrics.Metrics, bus *service.EventBus) (*app, error) {
	cfg, loc, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := service.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if logOut != nil {
		logger.SetOutput(logOut)
	}

	repo, err := sqlite.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	svc, err := service.NewClassifierService(service.Options{
		Config:  cfg,
		Repo:    repo,
		Logger:  logger,
		Metrics: m,
		Events:  bus,
	})
	if err != nil {
		repo.Close()
		return nil, err
	}

	a := &app{cfg: cfg, location: loc, log: logger, repo: repo, svc: svc}
	if _, err := svc.Reload(ctx, service.TriggerStartup); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database
func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
