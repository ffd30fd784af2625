package strategies

import (
	"context"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/solana"
)

// PlatformEventStrategy finds launchpad creation events signed by the wallet.
// Launchpad programs are not json-parsed by RPC, so a creation is recognized
// as a wallet-signed transaction that both invokes the platform program and
// initializes a mint via CPI.
type PlatformEventStrategy struct {
	rpc       solana.RPCClient
	platforms map[solana.Pubkey]bool
}

// NewPlatformEventStrategy creates the strategy. With no explicit platforms
// it watches Pump.fun.
func NewPlatformEventStrategy(rpc solana.RPCClient, platforms ...solana.Pubkey) *PlatformEventStrategy {
	if len(platforms) == 0 {
		platforms = []solana.Pubkey{solana.PumpFunProgramID}
	}
	set := make(map[solana.Pubkey]bool, len(platforms))
	for _, p := range platforms {
		set[p] = true
	}
	return &PlatformEventStrategy{rpc: rpc, platforms: set}
}

func (s *PlatformEventStrategy) Name() string                      { return "platform-events" }
func (s *PlatformEventStrategy) Priority() int                     { return 3 }
func (s *PlatformEventStrategy) Method() detection.DetectionMethod { return detection.MethodPlatformCreation }
func (s *PlatformEventStrategy) BaseConfidence() float64           { return 90 }

// Detect implements detection.Strategy.
func (s *PlatformEventStrategy) Detect(ctx context.Context, wallet string, opts detection.Options) (detection.StrategyResult, error) {
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

		platformInvoked := false
		for _, inst := range tx.Instructions {
			if s.platforms[inst.ProgramID] {
				platformInvoked = true
				break
			}
		}
		if !platformInvoked {
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
				Method:        detection.MethodPlatformCreation,
				RawConfidence: s.BaseConfidence(),
			})
		}
	}

	return result, nil
}
