package strategies

import (
	"context"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/indexer"
)

// defaultIndexerLimit caps how many authority records one lookup requests.
const defaultIndexerLimit = 100

// IndexerLookupStrategy asks a token-indexing API for tokens whose authority
// history contains the wallet. It covers creations that have since been
// renounced or transferred, which the live-state check misses.
type IndexerLookupStrategy struct {
	client indexer.Client
	limit  int
}

// NewIndexerLookupStrategy creates the strategy.
func NewIndexerLookupStrategy(client indexer.Client) *IndexerLookupStrategy {
	return &IndexerLookupStrategy{client: client, limit: defaultIndexerLimit}
}

func (s *IndexerLookupStrategy) Name() string                      { return "indexer-lookup" }
func (s *IndexerLookupStrategy) Priority() int                     { return 4 }
func (s *IndexerLookupStrategy) Method() detection.DetectionMethod { return detection.MethodIndexerAuthority }
func (s *IndexerLookupStrategy) BaseConfidence() float64           { return 95 }

// Detect implements detection.Strategy.
func (s *IndexerLookupStrategy) Detect(ctx context.Context, wallet string, opts detection.Options) (detection.StrategyResult, error) {
	records, err := s.client.TokensByAuthority(ctx, wallet, s.limit)
	if err != nil {
		return detection.StrategyResult{}, err
	}

	var result detection.StrategyResult
	for _, r := range records {
		if r.Mint == "" {
			continue
		}
		result.Tokens = append(result.Tokens, detection.DetectedToken{
			Address:    r.Mint,
			Name:       r.Name,
			Symbol:     r.Symbol,
			LaunchedAt: detection.LaunchTime(r.CreatedAt),
			Method:     detection.MethodIndexerAuthority,
			// Historical authority still counts as verified per the indexer's
			// chain-derived records.
			AuthorityVerified: r.CurrentAuthority,
			RawConfidence:     s.BaseConfidence(),
		})
	}
	return result, nil
}
