package detection

import (
	"time"
)

// ---------------------------------------------------------------------------
// Detection methods
// Ordered by trustworthiness: each method carries a fixed dedup priority and
// a fixed base confidence score.
// ---------------------------------------------------------------------------

// DetectionMethod identifies the technique that attributed a token to a wallet.
type DetectionMethod string

const (
	// MethodOnChainAuthority means the wallet currently holds the mint
	// authority, confirmed against live chain state.
	MethodOnChainAuthority DetectionMethod = "onchain_authority_verified"

	// MethodIndexerAuthority means an indexing API records the wallet as a
	// current or historical mint authority.
	MethodIndexerAuthority DetectionMethod = "indexer_authority_lookup"

	// MethodPlatformCreation means a launchpad creation instruction
	// (e.g. Pump.fun "create") signed by the wallet was found.
	MethodPlatformCreation DetectionMethod = "platform_creation_event"

	// MethodKnownProgram means an initializeMint under a known token program
	// appeared in a transaction signed by the wallet.
	MethodKnownProgram DetectionMethod = "known_program_heuristic"

	// MethodGenericHeuristic covers weak circumstantial signals (metadata
	// writes, account funding patterns).
	MethodGenericHeuristic DetectionMethod = "generic_heuristic"
)

func (m DetectionMethod) String() string { return string(m) }

// Priority returns the fixed dedup priority of the method. When two methods
// report the same token address, the higher priority always wins regardless
// of score gap.
func (m DetectionMethod) Priority() int {
	switch m {
	case MethodOnChainAuthority:
		return 5
	case MethodIndexerAuthority:
		return 4
	case MethodPlatformCreation:
		return 3
	case MethodKnownProgram:
		return 2
	case MethodGenericHeuristic:
		return 1
	default:
		return 0
	}
}

// BaseScore returns the fixed normalized score of the method. The generic
// heuristic returns its lowest tier; CalculateScore applies the raw-confidence
// tiering on top.
func (m DetectionMethod) BaseScore() int {
	switch m {
	case MethodOnChainAuthority:
		return 100
	case MethodIndexerAuthority:
		return 95
	case MethodPlatformCreation:
		return 90
	case MethodKnownProgram:
		return 85
	case MethodGenericHeuristic:
		return 60
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// Result model
// ---------------------------------------------------------------------------

// DetectedToken is the raw output of a single strategy invocation.
// Immutable once produced by a strategy.
type DetectedToken struct {
	Address           string          `json:"address"`
	Name              string          `json:"name,omitempty"`
	Symbol            string          `json:"symbol,omitempty"`
	LaunchedAt        *time.Time      `json:"launched_at,omitempty"` // nil = unknown
	Method            DetectionMethod `json:"method"`
	AuthorityVerified bool            `json:"authority_verified"`
	RawConfidence     float64         `json:"raw_confidence"` // meaning is method-specific
}

// LaunchTime converts a block timestamp into a launch time, mapping the zero
// value to nil so unknown launch times stay out of serialized results.
func LaunchTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// VerificationStatus classifies whether creation was confirmed on-chain.
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"
	StatusUnverified VerificationStatus = "unverified"
)

// EnrichedTokenSummary is a DetectedToken with its normalized confidence
// score and verification status attached. One per unique address per run.
type EnrichedTokenSummary struct {
	DetectedToken
	ConfidenceScore    int                `json:"confidence_score"`
	VerificationStatus VerificationStatus `json:"verification_status"`
}

// ScanMetadata describes a single detection run.
type ScanMetadata struct {
	ScanID              string            `json:"scan_id"`
	Wallet              string            `json:"wallet"`
	TransactionsScanned int               `json:"transactions_scanned"`
	TotalTransactions   int               `json:"total_transactions"` // best-effort
	ScanComplete        bool              `json:"scan_complete"`
	DurationMs          int64             `json:"duration_ms"`
	MethodsUsed         []DetectionMethod `json:"methods_used"`
}

// DetectionResult is the unit returned to callers and stored in the cache.
// Invariants: token addresses are unique, scores are within [0,100], and
// tokens are sorted descending by confidence score.
type DetectionResult struct {
	Tokens []EnrichedTokenSummary `json:"tokens"`
	Meta   ScanMetadata           `json:"scan_metadata"`
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Default detection budgets.
const (
	DefaultMaxTransactions = 4000
	DefaultTimeout         = 90 * time.Second
)

// Options bound a single detection run. A zero value means "use defaults".
type Options struct {
	// MaxTransactions caps how many transactions a strategy may inspect.
	MaxTransactions int

	// Timeout is the overall wall-clock budget for the run. Each strategy
	// receives whatever remains of it at dispatch time.
	Timeout time.Duration

	// BeforeSignature, when set, makes history-scanning strategies start
	// paging strictly before this signature.
	BeforeSignature string
}

func (o Options) withDefaults() Options {
	if o.MaxTransactions <= 0 {
		o.MaxTransactions = DefaultMaxTransactions
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}
