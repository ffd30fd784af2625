// Package detection determines which fungible tokens a wallet most likely
// created. Independent detection strategies run concurrently under a shared
// time budget; their claims are deduplicated by method priority, scored, and
// cached per wallet.
package detection

import (
	"context"
)

// StrategyResult is everything a single strategy invocation produced.
// The transaction counts are best-effort and feed ScanMetadata; strategies
// that do not scan history leave them at zero.
type StrategyResult struct {
	Tokens              []DetectedToken
	TransactionsScanned int
	TotalTransactions   int
}

// Strategy is one independent technique for inferring that a wallet created
// tokens. Implementations live outside this package (RPC scanners, indexer
// lookups, launchpad event parsers).
//
// Obligations:
//   - Detect must treat opts.Timeout (mirrored by the ctx deadline) as an
//     upper bound on its own work. The orchestrator never forcibly cancels
//     an in-flight strategy; it only refuses to dispatch when the budget is
//     already spent.
//   - Internal failures should degrade to a partial or empty StrategyResult
//     rather than an error where possible. Errors and panics are isolated by
//     the orchestrator either way and never abort sibling strategies.
//   - Zero tokens is a valid, non-error result.
type Strategy interface {
	// Name returns a stable identifier used in logs and metrics.
	Name() string

	// Priority orders the registry; higher runs are listed first. Dedup uses
	// the fixed Method priority, not this value.
	Priority() int

	// Method tags every token this strategy emits.
	Method() DetectionMethod

	// BaseConfidence is the method's default raw confidence.
	BaseConfidence() float64

	// Detect returns the candidate tokens for the wallet.
	Detect(ctx context.Context, wallet string, opts Options) (StrategyResult, error)
}
