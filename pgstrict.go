package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/admin"
	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/audit"
	_ "github.com/pgstrict/pgstrict/audit/sink"
	"github.com/pgstrict/pgstrict/cfg"
	"github.com/pgstrict/pgstrict/guard"
	"github.com/pgstrict/pgstrict/id"
	"github.com/pgstrict/pgstrict/inspect"
	"github.com/pgstrict/pgstrict/notify"
	"github.com/pgstrict/pgstrict/policy"
	"github.com/pgstrict/pgstrict/proxy"
	"github.com/pgstrict/pgstrict/telemetry"
)

// journalFlushWait bounds how long a mode change stays memory-only before
// the flush loop persists it.
const journalFlushWait = 500 * time.Millisecond

// statsInterval is how often component stats are sampled into gauges.
const statsInterval = 10 * time.Second

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
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("pg_strict - WHERE clause enforcement proxy for PostgreSQL")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Shared analysis cache; every enforcement surface parses through it
	cache, err := analyzer.NewCache(cfg.Config.Parser.CacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize analysis cache")
		return
	}

	// Seed the policy store from config, then let the journal override the
	// seeds: it carries the modes operators applied during the previous run
	store := policy.NewStore()
	seedModes(store)

	if cfg.Config.Strict.PersistPath != "" {
		log.Info().Str("path", cfg.Config.Strict.PersistPath).Msg("Starting mode journal")
		journal := policy.NewCommitter(cfg.Config.Strict.PersistPath, journalFlushWait)
		if err := journal.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start mode journal")
			return
		}
		defer journal.Stop()
		store = store.WithJournal(journal)
	}

	// Violation signal hub
	hub := notify.NewHub()

	// Audit pipeline: spool plus sink workers, fed by a hub subscriber
	var spool *audit.Log
	if cfg.Config.Audit.Enabled {
		log.Info().Msg("Initializing audit pipeline")
		registry, err := audit.NewRegistry(audit.RegistryConfig{
			SpoolPath:         cfg.Config.Audit.SpoolPath,
			CompressThreshold: cfg.Config.Audit.CompressThreshold,
			SinkConfigs:       cfg.Config.Audit.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize audit registry")
			return
		}
		if err := registry.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start audit registry")
			return
		}
		defer registry.Stop()

		collector := audit.NewCollector(registry, id.NewEventIDGenerator(cfg.Config.InstanceID), cfg.Config.InstanceID)
		collector.Start(hub)
		defer collector.Stop()

		spool = registry.Spool()
	}

	// Decision engine wired into the interceptor chain
	g := guard.New(store, cache).
		WithHub(hub).
		WithClientTag("proxy")
	if cfg.Config.Strict.WarnDedupe {
		g = g.WithWarnDedupe(guard.NewWarnDedupe())
	}

	chain := guard.NewChain()
	chain.Install(g.Interceptor())

	// Backend pool
	log.Info().Msg("Connecting to backend PostgreSQL")
	connectCtx, cancelConnect := context.WithTimeout(context.Background(),
		time.Duration(cfg.Config.Backend.ConnectTimeoutMS)*time.Millisecond)
	pool, err := proxy.Connect(connectCtx, cfg.Config.Backend)
	cancelConnect()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to backend")
		return
	}
	defer pool.Close()

	inspector := inspect.New(store, cache)

	// Admin HTTP surface
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewAdminHandlers(inspector, store, cache).WithHub(hub)
		if spool != nil {
			handlers.WithSpool(spool)
		}

		adminServer := admin.NewServer(cfg.Config.Admin.Bind, handlers)
		if err := adminServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer adminServer.Stop()
	}

	// Metrics and pprof on a dedicated listener
	if cfg.Config.Telemetry.Enabled {
		telemetryServer, err := startTelemetryServer(cfg.Config.Telemetry.Bind)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start telemetry server")
			return
		}
		defer telemetryServer.Close()
	}

	// Periodic stats sampling into gauges
	statsCollector := telemetry.NewMetricsCollector(statsInterval).
		WithSignals(hub).
		WithCache(cache).
		WithBackend(proxy.PoolStats{Pool: pool})
	if spool != nil {
		statsCollector = statsCollector.WithSpool(spool)
	}
	statsCollector.Start()
	defer statsCollector.Stop()

	// Proxy front end
	proxyServer := proxy.NewServer(cfg.Config.Listen, pool, chain, store, inspector)
	go func() {
		if err := proxyServer.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("Proxy server failed")
		}
	}()

	updateMode, deleteMode := store.Modes()
	log.Info().Msg("pg_strict started successfully")
	log.Info().
		Uint64("instance_id", cfg.Config.InstanceID).
		Str("listen", cfg.Config.Listen).
		Str("update_mode", updateMode.String()).
		Str("delete_mode", deleteMode.String()).
		Msg("Proxy is operational")

	// Keep running
	select {}
}

// seedModes applies the configured startup modes. The tokens were already
// validated with the rest of the configuration.
func seedModes(store *policy.Store) {
	if mode, ok := policy.ParseMode(cfg.Config.Strict.UpdateMode); ok {
		store.Set(analyzer.OperationUpdate, mode)
	}
	if mode, ok := policy.ParseMode(cfg.Config.Strict.DeleteMode); ok {
		store.Set(analyzer.OperationDelete, mode)
	}
}

// startTelemetryServer serves Prometheus metrics and pprof on its own
// listener, away from the admin surface.
func startTelemetryServer(bind string) (*http.Server, error) {
	httpMux := http.NewServeMux()

	// Register pprof handlers for profiling
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if metricsHandler := telemetry.GetMetricsHandler(); metricsHandler != nil {
		httpMux.Handle("/metrics", metricsHandler)
	}

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Handler: httpMux,
	}

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Telemetry HTTP server failed")
		}
	}()

	log.Info().Str("bind", bind).Msg("Telemetry endpoints enabled")
	return httpServer, nil
}
