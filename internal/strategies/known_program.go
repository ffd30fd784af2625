package strategies

import (
	"context"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/solana"
)

// KnownProgramStrategy reports any mint initialized under a known token
// program in a transaction the wallet signed. No current-authority check is
// made, so its claims rank below the verified strategies but above the
// generic heuristics.
type KnownProgramStrategy struct {
	rpc solana.RPCClient
}

// NewKnownProgramStrategy creates the strategy.
func NewKnownProgramStrategy(rpc solana.RPCClient) *KnownProgramStrategy {
	return &KnownProgramStrategy{rpc: rpc}
}

func (s *KnownProgramStrategy) Name() string                      { return "known-program" }
func (s *KnownProgramStrategy) Priority() int                     { return 2 }
func (s *KnownProgramStrategy) Method() detection.DetectionMethod { return detection.MethodKnownProgram }
func (s *KnownProgramStrategy) BaseConfidence() float64           { return 85 }

// Detect implements detection.Strategy.
func (s *KnownProgramStrategy) Detect(ctx context.Context, wallet string, opts detection.Options) (detection.StrategyResult, error) {
	scan, err := scanHistory(ctx, s.rpc, wallet, opts)
	if err != nil {
		return detection.StrategyResult{}, err
	}

	result := detection.StrategyResult{
		TransactionsScanned: scan.Scanned,
		TotalTransactions:   scan.Total,
	}

	walletKey := solana.Pubkey(wallet)
	seen := make(map[string]bool)

	for _, tx := range scan.Transactions {
		if !tx.SignedBy(walletKey) {
			continue
		}
		for _, inst := range tx.Instructions {
			if !isInitializeMint(inst) {
				continue
			}
			mint := inst.InfoString("mint")
			if mint == "" || seen[mint] {
				continue
			}
			seen[mint] = true

			result.Tokens = append(result.Tokens, detection.DetectedToken{
				Address:       mint,
				LaunchedAt:    detection.LaunchTime(tx.BlockTime),
				Method:        detection.MethodKnownProgram,
				RawConfidence: s.BaseConfidence(),
			})
		}
	}

	return result, nil
}
