package solana

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface detection strategies use to read chain state.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetMintInfo fetches the current state of a token mint account.
	GetMintInfo(ctx context.Context, mint Pubkey) (*MintInfo, error)

	// GetSignaturesForAddress lists transaction signatures involving the
	// address, newest first. A non-empty before starts paging strictly
	// before that signature.
	GetSignaturesForAddress(ctx context.Context, addr Pubkey, limit int, before Signature) ([]SignatureInfo, error)

	// GetTransaction fetches a confirmed transaction with parsed instructions.
	GetTransaction(ctx context.Context, sig Signature) (*TransactionDetail, error)

	// Health returns nil when the RPC endpoint is reachable.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is an in-memory RPC client for tests and dry runs. Histories
// are returned newest-first, matching the live endpoint.
type StubRPCClient struct {
	mu         sync.RWMutex
	mints      map[Pubkey]*MintInfo
	histories  map[Pubkey][]SignatureInfo
	txs        map[Signature]*TransactionDetail
	failNext   bool
	callCounts map[string]int
}

// NewStubRPCClient creates an empty stub.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		mints:      make(map[Pubkey]*MintInfo),
		histories:  make(map[Pubkey][]SignatureInfo),
		txs:        make(map[Signature]*TransactionDetail),
		callCounts: make(map[string]int),
	}
}

// AddMint registers a mint account for the stub to return.
func (s *StubRPCClient) AddMint(info MintInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mints[info.Mint] = &info
}

// AddTransaction stores a transaction and prepends its signature to the
// history of every address in addrs.
func (s *StubRPCClient) AddTransaction(tx TransactionDetail, addrs ...Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs[tx.Signature] = &tx
	entry := SignatureInfo{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
	}
	for _, addr := range addrs {
		s.histories[addr] = append([]SignatureInfo{entry}, s.histories[addr]...)
	}
}

// MarkFailed flags the signature as failed in every history it appears in.
func (s *StubRPCClient) MarkFailed(sig Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, history := range s.histories {
		for i := range history {
			if history[i].Signature == sig {
				history[i].Failed = true
			}
		}
	}
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Calls returns how many times the named method was invoked.
func (s *StubRPCClient) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callCounts[method]
}

func (s *StubRPCClient) begin(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCounts[method]++
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("stub rpc: injected failure for %s", method)
	}
	return nil
}

// GetMintInfo implements RPCClient.
func (s *StubRPCClient) GetMintInfo(ctx context.Context, mint Pubkey) (*MintInfo, error) {
	if err := s.begin("GetMintInfo"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.mints[mint]
	if !ok {
		return nil, fmt.Errorf("stub rpc: mint %s not found", mint)
	}
	copied := *info
	return &copied, nil
}

// GetSignaturesForAddress implements RPCClient.
func (s *StubRPCClient) GetSignaturesForAddress(ctx context.Context, addr Pubkey, limit int, before Signature) ([]SignatureInfo, error) {
	if err := s.begin("GetSignaturesForAddress"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.histories[addr]
	start := 0
	if before != "" {
		for i, entry := range history {
			if entry.Signature == before {
				start = i + 1
				break
			}
		}
	}

	out := make([]SignatureInfo, 0, limit)
	for i := start; i < len(history) && len(out) < limit; i++ {
		out = append(out, history[i])
	}
	return out, nil
}

// GetTransaction implements RPCClient.
func (s *StubRPCClient) GetTransaction(ctx context.Context, sig Signature) (*TransactionDetail, error) {
	if err := s.begin("GetTransaction"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[sig]
	if !ok {
		return nil, fmt.Errorf("stub rpc: transaction %s not found", sig)
	}
	copied := *tx
	return &copied, nil
}

// Health implements RPCClient.
func (s *StubRPCClient) Health(_ context.Context) error {
	if err := s.begin("Health"); err != nil {
		return err
	}
	return nil
}
