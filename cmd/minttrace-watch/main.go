package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minttrace/minttrace/internal/clickhouse"
	"github.com/minttrace/minttrace/internal/config"
	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/indexer"
	"github.com/minttrace/minttrace/internal/observability"
	"github.com/minttrace/minttrace/internal/solana"
	"github.com/minttrace/minttrace/internal/strategies"
)

// maxConcurrentScans bounds how many creator wallets are scanned at once.
const maxConcurrentScans = 4

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("MintTrace Watch - Starting")
	log.Info().Msg("WATCH -> RESOLVE CREATOR -> DETECT -> PERSIST")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("ws_endpoint", cfg.RPC.WSEndpoint).
		Int("max_transactions", cfg.Detection.MaxTransactions).
		Int("detection_timeout_ms", cfg.Detection.TimeoutMs).
		Bool("clickhouse", cfg.ClickHouse.Enabled).
		Msg("Configuration loaded")

	// 4. Create Solana RPC client.
	liveRPC := solana.NewLiveRPCClient(solana.RPCConfig{
		Endpoint:     cfg.RPC.Endpoint,
		WSEndpoint:   cfg.RPC.WSEndpoint,
		Timeout:      time.Duration(cfg.RPC.TimeoutMs) * time.Millisecond,
		MaxRetries:   cfg.RPC.MaxRetries,
		RateLimitRPS: cfg.RPC.RateLimitRPS,
	})
	var rpc solana.RPCClient = liveRPC
	defer liveRPC.Close()

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rpc.Health(healthCtx); err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.RPC.Endpoint).
			Msg("Solana RPC health check failed (continuing, may be rate-limited)")
	} else {
		log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("Solana RPC: LIVE - connected")
	}
	healthCancel()

	// 5. Create indexer client when enabled.
	var idx indexer.Client
	if cfg.Indexer.Enabled {
		idx = indexer.NewHTTPClient(indexer.HTTPConfig{
			BaseURL: cfg.Indexer.BaseURL,
			APIKey:  cfg.Indexer.APIKey,
			Timeout: time.Duration(cfg.Indexer.TimeoutMs) * time.Millisecond,
		})
		log.Info().Str("base_url", cfg.Indexer.BaseURL).Msg("Indexer client created")
	}

	// 6. Build the orchestrator.
	orc := detection.NewOrchestrator(detection.Config{
		MaxTransactions: cfg.Detection.MaxTransactions,
		Timeout:         time.Duration(cfg.Detection.TimeoutMs) * time.Millisecond,
		Cache: detection.CacheConfig{
			TTL:        time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			MaxEntries: cfg.Cache.MaxEntries,
		},
	})
	registerStrategies(orc, cfg, rpc, idx)

	// 7. Metrics and health.
	metrics := observability.NewDetectionMetrics()
	health := observability.NewHealthMonitor()
	health.Register("rpc", func(ctx context.Context) observability.ComponentHealth {
		if err := rpc.Health(ctx); err != nil {
			return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: err.Error()}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})

	// 8. Setup context and signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 9. ClickHouse history writer (optional).
	var writer *clickhouse.HistoryWriter
	if cfg.ClickHouse.Enabled {
		chClient, err := clickhouse.NewClient(cfg.ClickHouse.DSN, cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns)
		if err != nil {
			log.Fatal().Err(err).Msg("ClickHouse client creation failed")
		}
		defer chClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := chClient.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("ClickHouse ping failed (continuing, writes may fail)")
		}
		pingCancel()

		writer = clickhouse.NewHistoryWriter(chClient, cfg.ClickHouse.Database,
			cfg.ClickHouse.BatchSize, time.Duration(cfg.ClickHouse.FlushMs)*time.Millisecond)
		if err := writer.EnsureSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("ClickHouse schema setup failed (continuing, writes may fail)")
		}
		writer.Start(ctx)
		defer writer.Close()

		health.Register("clickhouse", func(ctx context.Context) observability.ComponentHealth {
			if err := chClient.Ping(ctx); err != nil {
				return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: err.Error()}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		})
	}

	// 10. Start the mint watcher.
	watcherConfig := solana.MintWatcherConfig{
		WSEndpoint:       cfg.RPC.WSEndpoint,
		ProgramIDs:       cfg.Watch.Programs,
		ReconnectDelayMs: cfg.Watch.ReconnectBackoffMs,
	}
	watcher := solana.NewMintWatcher(watcherConfig)
	events := watcher.Start(ctx)

	var wg sync.WaitGroup

	// 11. Event loop: each mint event resolves the creator and scans it.
	scanSem := make(chan struct{}, maxConcurrentScans)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			metrics.MintEventsTotal.Inc()

			scanSem <- struct{}{}
			wg.Add(1)
			go func(ev solana.MintEvent) {
				defer wg.Done()
				defer func() { <-scanSem }()

				result := scanCreator(ctx, rpc, orc, ev)
				if result == nil {
					return
				}

				metrics.ScansTotal.Inc()
				metrics.TokensDetectedTotal.Add(int64(len(result.Tokens)))
				metrics.ScanDurationMs.Observe(float64(result.Meta.DurationMs))
				if !result.Meta.ScanComplete {
					metrics.IncompleteScansTotal.Inc()
				}

				cacheStats := orc.CacheStats()
				metrics.CacheHits.Set(cacheStats.Hits)
				metrics.CacheMisses.Set(cacheStats.Misses)
				metrics.CacheEvictions.Set(cacheStats.Evictions)
				metrics.CacheSize.Set(int64(cacheStats.Size))

				if writer != nil {
					if err := writer.WriteResult(ctx, result); err != nil {
						log.Warn().Err(err).Str("scan_id", result.Meta.ScanID).Msg("Failed to buffer scan history")
					} else {
						metrics.HistoryRowsTotal.Add(int64(len(result.Tokens)))
					}
				}
			}(ev)
		}
	}()

	// 12. HTTP server: /metrics, /healthz, /stats.
	startHTTPServer(ctx, &wg, cfg, metrics, health, watcher, orc, liveRPC)

	// 13. Periodic stats logging. The strategy-failure counter is synced
	// here so only one goroutine computes the delta.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		var lastFailures int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if failures := orc.StrategyFailures(); failures > lastFailures {
					metrics.StrategyFailuresTotal.Add(failures - lastFailures)
					lastFailures = failures
				}
				ws := watcher.Stats()
				cs := orc.CacheStats()
				log.Info().
					Bool("ws_connected", ws.Connected).
					Int64("mints_detected", ws.MintsDetected).
					Int64("ws_reconnects", ws.Reconnects).
					Int64("scans", metrics.ScansTotal.Value()).
					Int64("tokens", metrics.TokensDetectedTotal.Value()).
					Int64("cache_hits", cs.Hits).
					Int64("cache_misses", cs.Misses).
					Float64("scan_p95_ms", metrics.ScanDurationMs.Quantile(0.95)).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("MintTrace Watch - Running")

	// 14. Block until shutdown.
	<-ctx.Done()

	log.Info().Msg("Shutting down Watch...")
	wg.Wait()
	log.Info().Msg("MintTrace Watch - Shutdown complete")
}

// scanCreator resolves a mint event to its creator wallet and runs a scan.
// Events whose transaction cannot be fetched are dropped with a log line.
func scanCreator(ctx context.Context, rpc solana.RPCClient, orc *detection.Orchestrator, ev solana.MintEvent) *detection.DetectionResult {
	if ctx.Err() != nil {
		return nil
	}

	txCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	tx, err := rpc.GetTransaction(txCtx, ev.Signature)
	cancel()
	if err != nil {
		log.Warn().Err(err).
			Str("sig", string(ev.Signature)).
			Msg("Could not resolve creator for mint event")
		return nil
	}

	creator := tx.FeePayer()
	if creator == "" {
		log.Warn().Str("sig", string(ev.Signature)).Msg("Mint event transaction has no fee payer")
		return nil
	}

	log.Info().
		Str("creator", string(creator)).
		Str("source", ev.Source).
		Uint64("slot", ev.Slot).
		Msg("Scanning creator wallet")

	return orc.DetectTokens(ctx, string(creator), detection.Options{}, false)
}

// registerStrategies wires the enabled strategies into the orchestrator.
func registerStrategies(orc *detection.Orchestrator, cfg *config.Config, rpc solana.RPCClient, idx indexer.Client) {
	enabled := cfg.Detection.Strategies

	if enabled.MintAuthority {
		orc.RegisterStrategy(strategies.NewMintAuthorityStrategy(rpc))
	}
	if enabled.IndexerLookup && idx != nil {
		orc.RegisterStrategy(strategies.NewIndexerLookupStrategy(idx))
	}
	if enabled.PlatformEvents {
		orc.RegisterStrategy(strategies.NewPlatformEventStrategy(rpc))
	}
	if enabled.KnownProgram {
		orc.RegisterStrategy(strategies.NewKnownProgramStrategy(rpc))
	}
	if enabled.GenericHeuristic {
		orc.RegisterStrategy(strategies.NewGenericHeuristicStrategy(rpc))
	}
}

// startHTTPServer serves metrics, health, and stats until ctx is cancelled.
func startHTTPServer(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config,
	metrics *observability.DetectionMetrics, health *observability.HealthMonitor,
	watcher *solana.MintWatcher, orc *detection.Orchestrator, liveRPC *solana.LiveRPCClient) {

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.NewPrometheusExporter(metrics.Registry))
	mux.Handle("/healthz", health)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"watcher":           watcher.Stats(),
			"cache":             orc.CacheStats(),
			"rpc":               liveRPC.Stats(),
			"strategy_failures": orc.StrategyFailures(),
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Metrics.PrometheusPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		log.Info().Str("addr", addr).Msg("Watch HTTP server started (metrics + health + stats)")
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "minttrace-watch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "minttrace-watch").
			Str("instance", general.InstanceID).Logger()
	}
}
