package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/micro-ha/hive-bridge/internal/events"
	httpapi "github.com/micro-ha/hive-bridge/internal/http"
	"github.com/micro-ha/hive-bridge/internal/http/handlers"
	"github.com/micro-ha/hive-bridge/internal/mqtt"
	"github.com/micro-ha/hive-bridge/internal/session"
	"github.com/micro-ha/hive-bridge/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge (default)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "err", err)
		return err
	}
	defer a.Close()

	hub := events.NewHub(logger.With("component", "events"))
	go hub.Run(ctx)

	observers := []func(){
		func() { a.registry.Sync(a.session.Catalog()) },
		hub.CatalogUpdated,
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, logger.With("component", "mqtt"))
		if err != nil {
			logger.Warn("mqtt disabled", "err", err)
		} else {
			defer client.Close()
			publisher := mqtt.NewPublisher(client, a.registry, cfg.MQTT.TopicPrefix, logger.With("component", "mqtt"))
			go publisher.Run(ctx)
			observers = append(observers, publisher.Notify)
		}
	}

	influx, err := telemetry.Connect(cfg.InfluxDB, logger.With("component", "telemetry"))
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		logger.Warn("telemetry disabled", "err", err)
	default:
		defer influx.Close()
		recorder := telemetry.NewRecorder(influx, a.session, logger.With("component", "telemetry"))
		observers = append(observers, func() { recorder.Record() })
	}

	// One observer keeps the order: entities are synced before anyone reads them.
	a.session.Subscribe(func() {
		for _, fn := range observers {
			fn()
		}
	})
	a.session.OnReauthRequired(func(err error) {
		logger.Warn("credentials must be entered again", "err", err)
		hub.SessionState(string(session.StateReauthRequired))
	})

	resumeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	if _, err := a.resume(resumeCtx); err != nil {
		logger.Warn("could not resume session; waiting for setup", "err", err)
	}
	cancel()

	go a.session.Run(ctx)

	api := handlers.New(a.session, a.registry, a.dispatcher, a.repo, cfg.Session.DeviceName, logger.With("component", "http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(api, hub),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr, "version", version)
	if err := httpapi.RunServer(ctx, httpServer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
