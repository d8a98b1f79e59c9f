package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/micro-ha/hive-bridge/internal/cognito"
	"github.com/micro-ha/hive-bridge/internal/command"
	"github.com/micro-ha/hive-bridge/internal/config"
	"github.com/micro-ha/hive-bridge/internal/entity"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/logging"
	"github.com/micro-ha/hive-bridge/internal/model"
	"github.com/micro-ha/hive-bridge/internal/session"
	"github.com/micro-ha/hive-bridge/internal/storage"
)

// app holds the components shared by serve and poll.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	repo       *storage.Repository
	session    *session.Manager
	index      *command.LookupIndex
	registry   *entity.Registry
	dispatcher *command.Dispatcher
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return config.Config{}, nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	logger := logging.NewWithWriter(os.Stdout, cfg.Level(), cfg.LogFormat).
		With("service", "hive-bridge", "version", version)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	stored, err := repo.LoadOptions(ctx)
	if err != nil {
		logger.Warn("failed to load options, using defaults", "err", err)
	}
	interval := cfg.ScanInterval()
	if stored.ScanIntervalSec > 0 {
		interval = stored.ScanInterval(cfg.Session.MinScanInterval)
	}

	auth := cognito.NewClient(cognito.Config{
		Endpoint:   cfg.Hive.IdentityURL,
		UserPoolID: cfg.Hive.UserPoolID,
		ClientID:   cfg.Hive.ClientID,
		Timeout:    cfg.Hive.RequestTimeout,
	}, logger.With("component", "cognito"))
	api := hiveapi.NewClient(cfg.Hive.APIURL, cfg.Hive.RequestTimeout, logger.With("component", "hiveapi"))

	mgr := session.New(auth, api, repo, session.Options{
		Interval:        interval,
		MinInterval:     cfg.Session.MinScanInterval,
		FreshnessWindow: cfg.Session.FreshnessWindow,
	}, logger.With("component", "session"))

	index := command.NewLookupIndex()
	registry := entity.NewRegistry(mgr, index)
	return &app{
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		session:    mgr,
		index:      index,
		registry:   registry,
		dispatcher: command.NewDispatcher(mgr, index, logger.With("component", "command")),
	}, nil
}

func (a *app) Close() {
	a.session.Close()
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("failed to close storage", "err", err)
	}
}

// resume starts the session from stored credentials, falling back to the
// configured account. It reports false when nothing is available and
// setup has to happen over HTTP.
func (a *app) resume(ctx context.Context) (bool, error) {
	creds, err := a.repo.LoadCredentials(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		if a.cfg.Hive.Username == "" || a.cfg.Hive.Password == "" {
			return false, nil
		}
		creds = model.Credentials{Username: a.cfg.Hive.Username, Password: a.cfg.Hive.Password}
	case err != nil:
		return false, fmt.Errorf("loading credentials: %w", err)
	}

	tokens, err := a.repo.LoadTokens(ctx)
	if err != nil {
		a.logger.Warn("failed to load tokens, logging in", "err", err)
		tokens = nil
	}

	result, err := a.session.Start(ctx, creds, tokens)
	if result.State.Active() {
		a.registry.Sync(a.session.Catalog())
	}
	if err != nil && !result.State.Active() {
		return false, err
	}
	if err != nil {
		a.logger.Warn("initial poll failed", "err", err)
	}
	if result.ChallengeRequired {
		a.logger.Warn("verification code required; finish setup through /api/setup/challenge", "username", creds.Username)
		return false, nil
	}
	a.logger.Info("session resumed", "username", creds.Username, "devices", a.session.Catalog().Len(), "entities", a.registry.Len())
	return true, nil
}
