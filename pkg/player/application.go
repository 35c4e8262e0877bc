package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/api"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/archive"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/observability"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

// Application encapsulates the replay application logic: archive client,
// topic cache registry, playback loop and API, plus the operational
// endpoints.
type Application struct {
	config       *Config
	logger       *logrus.Logger
	client       archive.Client
	registry     *topiccache.Registry
	player       Service
	api          api.Service
	healthServer *http.Server
	pprofServer  *http.Server
}

// NewApplication creates a new replay application
func NewApplication(cfg *Config, logger *logrus.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Start initializes and starts the replay application
func (a *Application) Start() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.Info("Starting replay...")

	// Start metrics server
	observability.StartMetricsServer(a.config.MetricsAddr)
	a.logger.WithField("addr", a.config.MetricsAddr).Info("Started metrics server")

	// Start health check server if configured
	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	// Start pprof server if configured
	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	// Connect to the archive
	client, err := archive.NewClient(a.logger, &a.config.Archive)
	if err != nil {
		return fmt.Errorf("failed to create archive client: %w", err)
	}
	if err := client.Start(); err != nil {
		return err
	}
	a.client = client

	// Build the topic cache registry
	registry, err := topiccache.NewRegistry(
		logrus.NewEntry(a.logger),
		a.config.Source,
		a.config.Topics.Telemetry,
		a.config.Topics.Events,
		&a.config.Cache,
	)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	a.registry = registry

	a.logger.WithFields(logrus.Fields{
		"source":    a.config.Source,
		"telemetry": len(a.config.Topics.Telemetry),
		"events":    len(a.config.Topics.Events),
	}).Info("Loaded topics")

	// Start the playback loop
	player, err := NewService(logrus.NewEntry(a.logger), &a.config.Playback, registry, client)
	if err != nil {
		return err
	}
	if err := player.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	a.player = player

	// Start the API
	a.api = api.NewService(&a.config.API, registry, player, logrus.NewEntry(a.logger))
	if err := a.api.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}

	a.logger.Info("Replay started successfully")

	return nil
}

// Stop gracefully shuts down the replay application
func (a *Application) Stop() error {
	a.logger.Info("Shutting down replay...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			a.logger.WithError(err).Error("Failed to stop API server")
		}
	}

	if a.player != nil {
		if err := a.player.Stop(); err != nil {
			a.logger.WithError(err).Error("Failed to stop playback")
		}
	}

	if a.client != nil {
		if err := a.client.Stop(); err != nil {
			a.logger.WithError(err).Error("Failed to stop archive client")
		}
	}

	if a.healthServer != nil {
		if err := a.healthServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to shutdown health check server")
		}
	}

	if a.pprofServer != nil {
		if err := a.pprofServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to shutdown pprof server")
		}
	}

	if err := observability.StopMetricsServer(ctx); err != nil {
		a.logger.WithError(err).Error("Failed to stop metrics server")
	}

	return nil
}

func (a *Application) startHealthCheck() {
	a.logger.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		// Ready once the playback loop runs
		if a.player != nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("READY"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
		}
	})

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Application) startPProf() {
	a.logger.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Pprof server failed")
		}
	}()
}
