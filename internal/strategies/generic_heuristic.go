package strategies

import (
	"context"
	"time"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/solana"
)

// Signal weights for the generic heuristic. The sum is capped below the
// lowest score any authoritative strategy produces.
const (
	heuristicBase           = 20
	heuristicCap            = 95
	signalWalletIsAuthority = 40
	signalMetadataWrite     = 30
	signalWalletSigned      = 25
	signalTokenAccountSetup = 25
)

// GenericHeuristicStrategy is the lowest-priority catch-all. It accumulates
// weak creation signals per mint across the wallet's history and reports the
// raw sum, leaving the tiered normalization to the scorer.
type GenericHeuristicStrategy struct {
	rpc solana.RPCClient
}

// NewGenericHeuristicStrategy creates the strategy.
func NewGenericHeuristicStrategy(rpc solana.RPCClient) *GenericHeuristicStrategy {
	return &GenericHeuristicStrategy{rpc: rpc}
}

func (s *GenericHeuristicStrategy) Name() string  { return "generic-heuristic" }
func (s *GenericHeuristicStrategy) Priority() int { return 1 }
func (s *GenericHeuristicStrategy) Method() detection.DetectionMethod {
	return detection.MethodGenericHeuristic
}
func (s *GenericHeuristicStrategy) BaseConfidence() float64 { return heuristicBase }

type mintSignals struct {
	score      float64
	launchedAt time.Time
}

// Detect implements detection.Strategy.
func (s *GenericHeuristicStrategy) Detect(ctx context.Context, wallet string, opts detection.Options) (detection.StrategyResult, error) {
	scan, err := scanHistory(ctx, s.rpc, wallet, opts)
	if err != nil {
		return detection.StrategyResult{}, err
	}

	result := detection.StrategyResult{
		TransactionsScanned: scan.Scanned,
		TotalTransactions:   scan.Total,
	}

	walletKey := solana.Pubkey(wallet)
	signals := make(map[string]*mintSignals)

	track := func(mint string, blockTime time.Time) *mintSignals {
		ms, ok := signals[mint]
		if !ok {
			ms = &mintSignals{score: heuristicBase, launchedAt: blockTime}
			signals[mint] = ms
		}
		return ms
	}

	// History arrives newest-first; walk it oldest-first so a mint's
	// initialization is seen before the follow-up account setup.
	for i := len(scan.Transactions) - 1; i >= 0; i-- {
		tx := scan.Transactions[i]
		signed := tx.SignedBy(walletKey)

		metadataWrite := false
		for _, inst := range tx.Instructions {
			if inst.ProgramID == solana.MetadataProgramID {
				metadataWrite = true
				break
			}
		}

		for _, inst := range tx.Instructions {
			switch {
			case isInitializeMint(inst):
				mint := inst.InfoString("mint")
				if mint == "" {
					continue
				}
				ms := track(mint, tx.BlockTime)
				if inst.InfoString("mintAuthority") == wallet {
					ms.score += signalWalletIsAuthority
				}
				if signed {
					ms.score += signalWalletSigned
				}
				if metadataWrite {
					ms.score += signalMetadataWrite
				}

			case isCreateTokenAccount(inst):
				mint := inst.InfoString("mint")
				if mint == "" || !signed {
					continue
				}
				// Only mints already seen being initialized; funding someone
				// else's token is not a creation signal on its own.
				if ms, ok := signals[mint]; ok {
					ms.score += signalTokenAccountSetup
				}
			}
		}
	}

	for mint, ms := range signals {
		raw := ms.score
		if raw > heuristicCap {
			raw = heuristicCap
		}
		result.Tokens = append(result.Tokens, detection.DetectedToken{
			Address:       mint,
			LaunchedAt:    detection.LaunchTime(ms.launchedAt),
			Method:        detection.MethodGenericHeuristic,
			RawConfidence: raw,
		})
	}

	return result, nil
}

// isCreateTokenAccount reports whether the instruction sets up a token
// account, via the associated-token program or a direct initializeAccount.
func isCreateTokenAccount(inst solana.InstructionInfo) bool {
	if inst.Program == "spl-associated-token-account" {
		return inst.Type == "create" || inst.Type == "createIdempotent"
	}
	if inst.Program == "spl-token" {
		return inst.Type == "initializeAccount" || inst.Type == "initializeAccount3"
	}
	return false
}
