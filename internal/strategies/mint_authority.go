package strategies

import (
	"context"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/solana"
)

// MintAuthorityStrategy attributes tokens whose mint authority the wallet
// verifiably holds right now. Candidates come from initializeMint
// instructions in the wallet's history; each is confirmed against live
// account state before being reported, so every token it emits carries
// AuthorityVerified=true.
type MintAuthorityStrategy struct {
	rpc solana.RPCClient
}

// NewMintAuthorityStrategy creates the highest-priority strategy.
func NewMintAuthorityStrategy(rpc solana.RPCClient) *MintAuthorityStrategy {
	return &MintAuthorityStrategy{rpc: rpc}
}

func (s *MintAuthorityStrategy) Name() string                      { return "mint-authority" }
func (s *MintAuthorityStrategy) Priority() int                     { return 5 }
func (s *MintAuthorityStrategy) Method() detection.DetectionMethod { return detection.MethodOnChainAuthority }
func (s *MintAuthorityStrategy) BaseConfidence() float64           { return 100 }

// Detect implements detection.Strategy.
func (s *MintAuthorityStrategy) Detect(ctx context.Context, wallet string, opts detection.Options) (detection.StrategyResult, error) {
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
		for _, inst := range tx.Instructions {
			if !isInitializeMint(inst) {
				continue
			}
			mint := inst.InfoString("mint")
			if mint == "" || seen[mint] {
				continue
			}
			// Only mints the wallet plausibly created: it either signed the
			// creating transaction or was named the initial authority.
			if inst.InfoString("mintAuthority") != wallet && !tx.SignedBy(walletKey) {
				continue
			}
			seen[mint] = true

			if ctx.Err() != nil {
				return result, nil
			}

			info, err := s.rpc.GetMintInfo(ctx, solana.Pubkey(mint))
			if err != nil {
				continue
			}
			if info.MintAuthority != walletKey {
				// Authority moved or was renounced; a lower-priority
				// strategy may still claim this mint.
				continue
			}

			result.Tokens = append(result.Tokens, detection.DetectedToken{
				Address:           mint,
				LaunchedAt:        detection.LaunchTime(tx.BlockTime),
				Method:            detection.MethodOnChainAuthority,
				AuthorityVerified: true,
				RawConfidence:     s.BaseConfidence(),
			})
		}
	}

	return result, nil
}
