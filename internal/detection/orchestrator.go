package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Orchestrator — fan-out, join-all, dedup, score, cache
// ---------------------------------------------------------------------------

// Config holds orchestrator-level defaults.
type Config struct {
	MaxTransactions int           `yaml:"max_transactions"`
	Timeout         time.Duration `yaml:"timeout"`
	Cache           CacheConfig   `yaml:"cache"`
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() Config {
	return Config{
		MaxTransactions: DefaultMaxTransactions,
		Timeout:         DefaultTimeout,
		Cache:           DefaultCacheConfig(),
	}
}

// Orchestrator owns the strategy registry and the result cache, and runs the
// end-to-end detection operation. Safe for concurrent use; note there is no
// single-flight guard, so simultaneous calls for the same wallet each run the
// full fan-out and the last cache write wins.
type Orchestrator struct {
	mu         sync.RWMutex
	strategies []Strategy

	cache  *ResultCache
	config Config

	strategyFailures atomic.Int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewOrchestrator creates an orchestrator with its own cache.
func NewOrchestrator(config Config) *Orchestrator {
	if config.MaxTransactions <= 0 {
		config.MaxTransactions = DefaultMaxTransactions
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		cache:  NewResultCache(config.Cache),
		config: config,
		now:    time.Now,
	}
}

// RegisterStrategy adds a strategy and re-sorts the registry by descending
// priority, so registration order never matters.
func (o *Orchestrator) RegisterStrategy(s Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.strategies = append(o.strategies, s)
	sort.SliceStable(o.strategies, func(i, j int) bool {
		return o.strategies[i].Priority() > o.strategies[j].Priority()
	})

	log.Info().
		Str("strategy", s.Name()).
		Int("priority", s.Priority()).
		Str("method", s.Method().String()).
		Msg("detect: strategy registered")
}

// Strategies returns a copy of the registry, highest priority first.
func (o *Orchestrator) Strategies() []Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Strategy, len(o.strategies))
	copy(out, o.strategies)
	return out
}

// ClearStrategies empties the registry.
func (o *Orchestrator) ClearStrategies() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategies = nil
}

// InvalidateCache drops the cached result for a wallet, returning whether an
// entry was removed.
func (o *Orchestrator) InvalidateCache(wallet string) bool {
	return o.cache.Invalidate(wallet)
}

// CacheStats exposes the cache counters.
func (o *Orchestrator) CacheStats() CacheStats {
	return o.cache.Stats()
}

// StrategyFailures returns how many strategy errors and panics have been
// absorbed since start.
func (o *Orchestrator) StrategyFailures() int64 {
	return o.strategyFailures.Load()
}

// strategyOutcome is the settled state of one dispatched strategy: success,
// caught failure, or skipped-before-start.
type strategyOutcome struct {
	strategy Strategy
	result   StrategyResult
	err      error
	skipped  bool
	elapsed  time.Duration
}

// DetectTokens runs every registered strategy concurrently for the wallet and
// merges their findings into one ranked, deduplicated DetectionResult.
//
// The operation always succeeds: strategy failures contribute nothing, and
// degradation is visible only through an empty token list and/or
// ScanMetadata.ScanComplete == false. The result is cached unconditionally,
// even when the scan was budget-limited.
func (o *Orchestrator) DetectTokens(ctx context.Context, wallet string, opts Options, forceRefresh bool) *DetectionResult {
	if opts.MaxTransactions <= 0 {
		opts.MaxTransactions = o.config.MaxTransactions
	}
	if opts.Timeout <= 0 {
		opts.Timeout = o.config.Timeout
	}
	opts = opts.withDefaults()

	key := normalizeKey(wallet)

	if !forceRefresh {
		if cached, ok := o.cache.Get(key); ok {
			log.Debug().Str("wallet", key).Str("scan_id", cached.Meta.ScanID).Msg("detect: cache hit")
			return cached
		}
	}

	start := o.now()
	scanID := uuid.NewString()
	strategies := o.Strategies()

	log.Debug().
		Str("wallet", key).
		Str("scan_id", scanID).
		Int("strategies", len(strategies)).
		Dur("timeout", opts.Timeout).
		Msg("detect: scan started")

	outcomes := make([]strategyOutcome, len(strategies))
	var wg sync.WaitGroup
	skipped := false

	for i, s := range strategies {
		remaining := opts.Timeout - o.now().Sub(start)
		if remaining <= 0 {
			// Budget already spent: never invoke, just record the gap.
			outcomes[i] = strategyOutcome{strategy: s, skipped: true}
			skipped = true
			log.Warn().
				Str("strategy", s.Name()).
				Str("scan_id", scanID).
				Msg("detect: strategy skipped, budget exhausted at dispatch")
			continue
		}

		wg.Add(1)
		go func(i int, s Strategy, budget time.Duration) {
			defer wg.Done()
			outcomes[i] = runStrategy(ctx, s, wallet, opts, budget)
		}(i, s, remaining)
	}

	// Join-all barrier: wait for every dispatched strategy to settle,
	// success or caught failure. Not a race.
	wg.Wait()

	var flat []DetectedToken
	methodsSeen := make(map[DetectionMethod]bool)
	txScanned := 0
	txTotal := 0

	for _, out := range outcomes {
		if out.skipped {
			continue
		}
		if out.err != nil {
			o.strategyFailures.Add(1)
			log.Warn().
				Err(out.err).
				Str("strategy", out.strategy.Name()).
				Str("scan_id", scanID).
				Dur("elapsed", out.elapsed).
				Msg("detect: strategy failed, contributing no tokens")
			continue
		}
		if len(out.result.Tokens) > 0 {
			methodsSeen[out.strategy.Method()] = true
			flat = append(flat, out.result.Tokens...)
		}
		txScanned += out.result.TransactionsScanned
		if out.result.TotalTransactions > txTotal {
			txTotal = out.result.TotalTransactions
		}
	}

	survivors := dedupeByPriority(flat)

	enriched := make([]EnrichedTokenSummary, 0, len(survivors))
	for _, t := range survivors {
		enriched = append(enriched, Enrich(t))
	}
	enriched = SortByConfidence(enriched)

	elapsed := o.now().Sub(start)
	scanComplete := !skipped && elapsed < opts.Timeout

	result := &DetectionResult{
		Tokens: enriched,
		Meta: ScanMetadata{
			ScanID:              scanID,
			Wallet:              key,
			TransactionsScanned: txScanned,
			TotalTransactions:   txTotal,
			ScanComplete:        scanComplete,
			DurationMs:          elapsed.Milliseconds(),
			MethodsUsed:         sortedMethods(methodsSeen),
		},
	}

	// Cached even when incomplete; later callers within the TTL see the
	// partial result unless they force a refresh.
	o.cache.Set(key, result, 0)

	log.Info().
		Str("wallet", key).
		Str("scan_id", scanID).
		Int("tokens", len(enriched)).
		Bool("scan_complete", scanComplete).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("detect: scan finished")

	return result
}

// runStrategy invokes one strategy with its share of the remaining budget,
// converting any error or panic into a settled outcome.
func runStrategy(ctx context.Context, s Strategy, wallet string, opts Options, budget time.Duration) (out strategyOutcome) {
	out.strategy = s
	begin := time.Now()

	defer func() {
		out.elapsed = time.Since(begin)
		if r := recover(); r != nil {
			out.result = StrategyResult{}
			out.err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	sopts := opts
	sopts.Timeout = budget

	out.result, out.err = s.Detect(sctx, wallet, sopts)
	return out
}

// dedupeByPriority keeps one token per address: higher fixed method priority
// wins; on equal priority an authority-verified claim beats an unverified one.
func dedupeByPriority(tokens []DetectedToken) []DetectedToken {
	best := make(map[string]DetectedToken, len(tokens))

	for _, t := range tokens {
		addr := strings.TrimSpace(t.Address)
		if addr == "" {
			continue
		}
		t.Address = addr

		cur, ok := best[addr]
		if !ok {
			best[addr] = t
			continue
		}
		if t.Method.Priority() > cur.Method.Priority() {
			best[addr] = t
			continue
		}
		if t.Method.Priority() == cur.Method.Priority() && t.AuthorityVerified && !cur.AuthorityVerified {
			best[addr] = t
		}
	}

	out := make([]DetectedToken, 0, len(best))
	for _, t := range best {
		out = append(out, t)
	}
	return out
}

// sortedMethods returns the contributing methods ordered by descending
// priority for deterministic metadata.
func sortedMethods(seen map[DetectionMethod]bool) []DetectionMethod {
	out := make([]DetectionMethod, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}
