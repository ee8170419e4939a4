// Command evonwatch keeps a live session with the controller, subscribes the
// configured instances and fans every value change out to the console, the
// TimescaleDB change store and an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/config"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/connection"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/database"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/logging"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/mqtt"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/router"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/version"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/writer"
)

const shutdownTimeout = 15 * time.Second

// component is a sink with a start/stop lifecycle.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/evonwatch.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evonwatch: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, "evonwatch", version.Version)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("evonwatch failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting evonwatch",
		"instance_id", cfg.Instance.ID,
		"controller", cfg.Controller.URL,
		"subscriptions", len(cfg.Subscriptions.Instances),
		"commit", version.Commit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	manager, err := connection.NewManager(connection.NewManagerConfig(cfg.Controller, cfg.Connection), logger)
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}
	defer manager.Close()

	rt := router.NewRouter(router.RouterConfig{
		StoreEnabled:   cfg.Database.Enabled,
		PublishEnabled: cfg.MQTT.Enabled,
		ConsoleEnabled: true,
		SkipInitial:    cfg.Subscriptions.SkipInitial,
		BufferSize:     cfg.Writers.BufferSize,
	}, logger)
	bufs := rt.Buffers()

	health := newHealthHandler(manager, rt)
	console := newConsoleSink(os.Stdout, bufs.Console)
	health.addSink("console", func() any { return console.Stats() })
	sinks := []component{console}

	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fmt.Errorf("connect timescale: %w", err)
		}
		defer pool.Close()

		if err := writer.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		w := writer.NewChangeWriter(writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			Source:        cfg.Instance.ID,
		}, bufs.Store, pool, logger)
		sinks = append(sinks, w)
		health.addSink("change_writer", func() any { return w.Stats() })
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		p := mqtt.NewPublisher(mqtt.PublisherConfig{
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retain:      cfg.MQTT.Retain,
		}, bufs.Publish, client, logger)
		sinks = append(sinks, p)
		health.addSink("mqtt_publisher", func() any { return p.Stats() })
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start sink: %w", err)
		}
	}

	for _, id := range cfg.Subscriptions.Instances {
		if err := manager.Subscribe(id, rt.Accept); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           health,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// A failed first attempt keeps retrying in the background.
		err := manager.Connect(gctx)
		if errors.Is(err, connection.ErrMissingToken) {
			return err
		}
		if err != nil {
			logger.Warn("initial connect failed, retrying", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Close the manager first so queued events reach the router before it drains.
		manager.Close()
		if err := rt.Stop(shutdownCtx); err != nil {
			logger.Warn("router stop", "error", err)
		}
		for _, s := range sinks {
			if err := s.Stop(shutdownCtx); err != nil {
				logger.Warn("sink stop", "error", err)
			}
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("evonwatch running",
		"ws_url", manager.URL(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	err = g.Wait()
	logger.Info("evonwatch stopped")
	return err
}
