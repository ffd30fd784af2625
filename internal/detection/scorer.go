package detection

import (
	"sort"
)

// Generic-heuristic raw-confidence tiers.
const (
	genericTierHigh = 80 // raw >= 80
	genericTierMid  = 70 // raw >= 50
	genericTierLow  = 60 // everything else
)

// CalculateScore maps a detected token to its normalized confidence score.
// Every method has a fixed base score; only the generic heuristic is tiered
// by the raw confidence the strategy reported. Deterministic, no I/O.
func CalculateScore(token DetectedToken) int {
	score := token.Method.BaseScore()

	if token.Method == MethodGenericHeuristic {
		switch {
		case token.RawConfidence >= 80:
			score = genericTierHigh
		case token.RawConfidence >= 50:
			score = genericTierMid
		default:
			score = genericTierLow
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Enrich attaches the normalized score and verification status to a token.
func Enrich(token DetectedToken) EnrichedTokenSummary {
	status := StatusUnverified
	if token.AuthorityVerified {
		status = StatusVerified
	}
	return EnrichedTokenSummary{
		DetectedToken:      token,
		ConfidenceScore:    CalculateScore(token),
		VerificationStatus: status,
	}
}

// SortByConfidence returns a new slice ordered descending by confidence
// score. The input is not mutated. Ties keep their relative input order but
// callers must not rely on any secondary ordering.
func SortByConfidence(tokens []EnrichedTokenSummary) []EnrichedTokenSummary {
	out := make([]EnrichedTokenSummary, len(tokens))
	copy(out, tokens)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ConfidenceScore > out[j].ConfidenceScore
	})
	return out
}
