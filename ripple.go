package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/provider"
	"github.com/maxpert/ripple/publisher"
	_ "github.com/maxpert/ripple/publisher/sink"
	_ "github.com/maxpert/ripple/publisher/transformer"
	"github.com/maxpert/ripple/rx"
	"github.com/maxpert/ripple/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Note is the entity served by the standalone binary
type Note struct {
	ID      *int64    `db:"_id,pk" json:"id,omitempty"`
	Title   string    `db:"title" json:"title"`
	Body    string    `db:"body" json:"body"`
	Created time.Time `db:"created" json:"created"`
}

func (Note) TableName() string { return "notes" }

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Ripple - reactive change streams over SQLite")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	if err := os.MkdirAll(cfg.Config.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.Config.DataDir).Msg("Failed to create data directory")
		return
	}

	// Open store
	log.Info().Str("path", cfg.Config.DatabasePath()).Msg("Opening store")
	store, err := db.Open(cfg.Config.DatabasePath(), cfg.Config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
		return
	}
	defer store.Close()

	registry := entity.NewRegistry()
	entity.MustRegister[*Note](registry)
	if err := store.CreateTables(context.Background(), registry); err != nil {
		log.Fatal().Err(err).Msg("Failed to create tables")
		return
	}

	collector := telemetry.NewMetricsCollector(store, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	// Gateway
	gateway := rx.New(store, registry, gatewayOptions()...)

	if cfg.Config.Logging.Verbose {
		sub := store.Hub().SubscribeAll(logChange)
		defer sub.Cancel()
	}

	// Change forwarding
	if len(cfg.Config.Sinks) > 0 {
		forwarding, err := publisher.NewRegistry(publisher.RegistryConfig{
			Hub:         store.Hub(),
			NodeID:      cfg.Config.NodeID,
			SinkConfigs: cfg.Config.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize change forwarding")
			return
		}
		if err := forwarding.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start change forwarding")
			return
		}
		defer forwarding.Stop()
	}

	// Provider
	var server *http.Server
	if cfg.Config.Provider.Enabled {
		server = startProvider(gateway)
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("data_dir", cfg.Config.DataDir).
		Int("sinks", len(cfg.Config.Sinks)).
		Msg("Node is operational")

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Provider shutdown did not complete cleanly")
		}
	}
}

func gatewayOptions() []rx.Option {
	bulk := rx.BulkPerRow
	if cfg.Config.Gateway.BulkDelete == cfg.BulkDeleteStatement {
		bulk = rx.BulkStatement
	}
	return []rx.Option{
		rx.WithSerializedWrites(cfg.Config.Gateway.SerializeWrites),
		rx.WithBulkDeletes(bulk),
	}
}

func startProvider(gateway *rx.Database) *http.Server {
	mux := http.NewServeMux()

	var opts []provider.ServerOption
	if cfg.Config.Provider.Secret != "" {
		opts = append(opts, provider.WithSecret(cfg.Config.Provider.Secret))
	}
	provider.NewServer(gateway, opts...).Mount(mux, "/tables")

	if h := telemetry.GetMetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Config.Provider.BindAddress, cfg.Config.Provider.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("Provider listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Provider server failed")
		}
	}()

	return server
}

func logChange(ev change.Event) error {
	id, _ := ev.ID()
	log.Debug().
		Str("kind", ev.Kind().String()).
		Str("table", ev.Table()).
		Int64("id", id).
		Msg("Change published")
	return nil
}
