package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minttrace/minttrace/internal/clickhouse"
	"github.com/minttrace/minttrace/internal/config"
	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/indexer"
	"github.com/minttrace/minttrace/internal/solana"
	"github.com/minttrace/minttrace/internal/strategies"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	wallet := flag.String("wallet", "", "Wallet address to scan (required)")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	forceRefresh := flag.Bool("force", false, "Bypass the result cache")
	maxTx := flag.Int("max-tx", 0, "Override detection.max_transactions")
	timeoutMs := flag.Int("timeout-ms", 0, "Override detection.timeout_ms")
	flag.Parse()

	if *wallet == "" {
		fmt.Fprintln(os.Stderr, "FATAL: -wallet is required")
		flag.Usage()
		os.Exit(2)
	}

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	if !*stubMode && !solana.IsValidAddress(*wallet) {
		log.Fatal().Str("wallet", *wallet).Msg("Not a valid base58 Solana address")
	}

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("wallet", *wallet).
		Bool("stub_mode", *stubMode).
		Bool("force_refresh", *forceRefresh).
		Msg("MintTrace scan starting")

	// 4. Create Solana RPC client.
	var rpc solana.RPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		liveRPC := solana.NewLiveRPCClient(solana.RPCConfig{
			Endpoint:     cfg.RPC.Endpoint,
			WSEndpoint:   cfg.RPC.WSEndpoint,
			Timeout:      time.Duration(cfg.RPC.TimeoutMs) * time.Millisecond,
			MaxRetries:   cfg.RPC.MaxRetries,
			RateLimitRPS: cfg.RPC.RateLimitRPS,
		})
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.RPC.Endpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Create indexer client.
	var idx indexer.Client
	if *stubMode {
		idx = indexer.NewStub()
	} else if cfg.Indexer.Enabled {
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

	// 7. Run one detection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	opts := detection.Options{
		MaxTransactions: *maxTx,
		Timeout:         time.Duration(*timeoutMs) * time.Millisecond,
	}
	result := orc.DetectTokens(ctx, *wallet, opts, *forceRefresh)

	// 8. Print the result.
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
	fmt.Println(string(out))

	// 9. Optionally persist the scan.
	if cfg.ClickHouse.Enabled && !*stubMode {
		persistResult(cfg, result)
	}

	log.Info().
		Str("scan_id", result.Meta.ScanID).
		Int("tokens", len(result.Tokens)).
		Bool("scan_complete", result.Meta.ScanComplete).
		Int64("duration_ms", result.Meta.DurationMs).
		Msg("MintTrace scan finished")
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

	if len(orc.Strategies()) == 0 {
		log.Warn().Msg("No strategies registered; every scan will come back empty")
	}
}

// persistResult writes one scan to ClickHouse and closes the connection.
func persistResult(cfg *config.Config, result *detection.DetectionResult) {
	client, err := clickhouse.NewClient(cfg.ClickHouse.DSN, cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns)
	if err != nil {
		log.Error().Err(err).Msg("ClickHouse unavailable, scan not persisted")
		return
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	writer := clickhouse.NewHistoryWriter(client, cfg.ClickHouse.Database,
		cfg.ClickHouse.BatchSize, time.Duration(cfg.ClickHouse.FlushMs)*time.Millisecond)

	if err := writer.EnsureSchema(ctx); err != nil {
		log.Error().Err(err).Msg("ClickHouse schema setup failed, scan not persisted")
		return
	}
	if err := writer.WriteResult(ctx, result); err != nil {
		log.Error().Err(err).Msg("Failed to buffer scan history")
		return
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to flush scan history")
		return
	}
	log.Info().Str("scan_id", result.Meta.ScanID).Msg("Scan persisted to ClickHouse")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("service", "minttrace-scan").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().Timestamp().Str("service", "minttrace-scan").
			Str("instance", general.InstanceID).Logger()
	}
}
