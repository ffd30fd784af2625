package strategies

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/indexer"
	"github.com/minttrace/minttrace/internal/solana"
)

const (
	testWallet = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"
	otherKey   = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

func testOptions() detection.Options {
	return detection.Options{MaxTransactions: 100, Timeout: 5 * time.Second}
}

func initMintIx(mint, authority string) solana.InstructionInfo {
	return solana.InstructionInfo{
		ProgramID: solana.TokenProgramID,
		Program:   "spl-token",
		Type:      "initializeMint",
		Info: map[string]any{
			"mint":          mint,
			"mintAuthority": authority,
		},
	}
}

func mintTx(sig string, signer string, instructions ...solana.InstructionInfo) solana.TransactionDetail {
	return solana.TransactionDetail{
		Signature:    solana.Signature(sig),
		Slot:         100,
		BlockTime:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Signers:      []solana.Pubkey{solana.Pubkey(signer)},
		Instructions: instructions,
	}
}

// ---------------------------------------------------------------------------
// History scanning
// ---------------------------------------------------------------------------

func TestScanHistory_RespectsMaxTransactions(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	for i := 0; i < 10; i++ {
		rpc.AddTransaction(mintTx(fmt.Sprintf("sig-%d", i), testWallet), solana.Pubkey(testWallet))
	}

	opts := testOptions()
	opts.MaxTransactions = 4

	scan, err := scanHistory(context.Background(), rpc, testWallet, opts)
	require.NoError(t, err)
	assert.Len(t, scan.Transactions, 4)
	assert.Equal(t, 4, scan.Scanned)
	assert.Equal(t, 10, scan.Total)
}

func TestScanHistory_SkipsFailedTransactions(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-ok", testWallet), solana.Pubkey(testWallet))

	// A failed signature appears in the history but its transaction is
	// never fetched.
	failed := mintTx("sig-failed", testWallet)
	rpc.AddTransaction(failed, solana.Pubkey(testWallet))
	rpc.MarkFailed(failed.Signature)

	scan, err := scanHistory(context.Background(), rpc, testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, scan.Transactions, 1)
	assert.Equal(t, solana.Signature("sig-ok"), scan.Transactions[0].Signature)
	assert.Equal(t, 2, scan.Total)
}

func TestScanHistory_ErrorBeforeAnythingFetched(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.SetFailNext()

	scan, err := scanHistory(context.Background(), rpc, testWallet, testOptions())
	assert.Error(t, err)
	assert.Empty(t, scan.Transactions)
}

func TestScanHistory_PartialOnContextExpiry(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	for i := 0; i < 5; i++ {
		rpc.AddTransaction(mintTx(fmt.Sprintf("sig-%d", i), testWallet), solana.Pubkey(testWallet))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Signatures were never fetched, so the scan fails outright; with a
	// live context the same call succeeds.
	_, err := scanHistory(ctx, rpc, testWallet, testOptions())
	assert.Error(t, err)

	scan, err := scanHistory(context.Background(), rpc, testWallet, testOptions())
	require.NoError(t, err)
	assert.Len(t, scan.Transactions, 5)
}

func TestIsInitializeMint(t *testing.T) {
	assert.True(t, isInitializeMint(initMintIx("m", testWallet)))

	ix2022 := initMintIx("m", testWallet)
	ix2022.ProgramID = solana.Token2022ProgramID
	ix2022.Program = ""
	assert.True(t, isInitializeMint(ix2022))

	transfer := solana.InstructionInfo{ProgramID: solana.TokenProgramID, Program: "spl-token", Type: "transfer"}
	assert.False(t, isInitializeMint(transfer))

	foreign := solana.InstructionInfo{ProgramID: "SomeOtherProgram1111111111111111111111111111", Type: "initializeMint"}
	assert.False(t, isInitializeMint(foreign))
}

// ---------------------------------------------------------------------------
// Mint authority strategy
// ---------------------------------------------------------------------------

func TestMintAuthority_VerifiedToken(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-1", testWallet, initMintIx("mint-held", testWallet)), solana.Pubkey(testWallet))
	rpc.AddMint(solana.MintInfo{Mint: "mint-held", MintAuthority: solana.Pubkey(testWallet)})

	s := NewMintAuthorityStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)

	tok := result.Tokens[0]
	assert.Equal(t, "mint-held", tok.Address)
	assert.Equal(t, detection.MethodOnChainAuthority, tok.Method)
	assert.True(t, tok.AuthorityVerified)
	assert.Equal(t, float64(100), tok.RawConfidence)
}

func TestMintAuthority_SkipsTransferredAuthority(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-1", testWallet, initMintIx("mint-moved", testWallet)), solana.Pubkey(testWallet))
	rpc.AddMint(solana.MintInfo{Mint: "mint-moved", MintAuthority: solana.Pubkey(otherKey)})

	s := NewMintAuthorityStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Tokens)
	assert.Equal(t, 1, result.TransactionsScanned)
}

func TestMintAuthority_IgnoresUnrelatedMints(t *testing.T) {
	// Wallet neither signed nor was named authority.
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-1", otherKey, initMintIx("mint-foreign", otherKey)), solana.Pubkey(testWallet))

	s := NewMintAuthorityStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Tokens)
	assert.Zero(t, rpc.Calls("GetMintInfo"))
}

// ---------------------------------------------------------------------------
// Indexer lookup strategy
// ---------------------------------------------------------------------------

func TestIndexerLookup_MapsRecords(t *testing.T) {
	client := indexer.NewStub()
	client.AddRecord(testWallet, indexer.TokenRecord{
		Mint:             "mint-indexed",
		Name:             "Indexed Token",
		Symbol:           "IDX",
		CurrentAuthority: true,
		CreatedAt:        time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC),
	})
	client.AddRecord(testWallet, indexer.TokenRecord{
		Mint:             "mint-renounced",
		CurrentAuthority: false,
	})

	s := NewIndexerLookupStrategy(client)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, result.Tokens, 2)

	assert.Equal(t, "Indexed Token", result.Tokens[0].Name)
	assert.Equal(t, "IDX", result.Tokens[0].Symbol)
	assert.True(t, result.Tokens[0].AuthorityVerified)
	assert.False(t, result.Tokens[1].AuthorityVerified)
	for _, tok := range result.Tokens {
		assert.Equal(t, detection.MethodIndexerAuthority, tok.Method)
		assert.Equal(t, float64(95), tok.RawConfidence)
	}
}

func TestIndexerLookup_PropagatesError(t *testing.T) {
	client := indexer.NewStub()
	client.SetError(errors.New("indexer down"))

	s := NewIndexerLookupStrategy(client)
	_, err := s.Detect(context.Background(), testWallet, testOptions())
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Platform event strategy
// ---------------------------------------------------------------------------

func TestPlatformEvent_DetectsLaunchpadCreation(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-launch", testWallet,
		solana.InstructionInfo{ProgramID: solana.PumpFunProgramID, Type: "create"},
		initMintIx("mint-pump", otherKey),
	), solana.Pubkey(testWallet))

	s := NewPlatformEventStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.Equal(t, "mint-pump", result.Tokens[0].Address)
	assert.Equal(t, detection.MethodPlatformCreation, result.Tokens[0].Method)
	assert.False(t, result.Tokens[0].AuthorityVerified)
}

func TestPlatformEvent_IgnoresNonPlatformMints(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-plain", testWallet, initMintIx("mint-plain", testWallet)), solana.Pubkey(testWallet))

	s := NewPlatformEventStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Tokens)
}

func TestPlatformEvent_IgnoresUnsignedTransactions(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-other", otherKey,
		solana.InstructionInfo{ProgramID: solana.PumpFunProgramID, Type: "create"},
		initMintIx("mint-other", otherKey),
	), solana.Pubkey(testWallet))

	s := NewPlatformEventStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Tokens)
}

// ---------------------------------------------------------------------------
// Known program strategy
// ---------------------------------------------------------------------------

func TestKnownProgram_DetectsSignedMintInit(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-1", testWallet, initMintIx("mint-known", otherKey)), solana.Pubkey(testWallet))

	s := NewKnownProgramStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)

	tok := result.Tokens[0]
	assert.Equal(t, "mint-known", tok.Address)
	assert.Equal(t, detection.MethodKnownProgram, tok.Method)
	assert.False(t, tok.AuthorityVerified)
	assert.Equal(t, float64(85), tok.RawConfidence)
}

func TestKnownProgram_DeduplicatesMint(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-1", testWallet, initMintIx("mint-dup", testWallet)), solana.Pubkey(testWallet))
	rpc.AddTransaction(mintTx("sig-2", testWallet, initMintIx("mint-dup", testWallet)), solana.Pubkey(testWallet))

	s := NewKnownProgramStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	assert.Len(t, result.Tokens, 1)
}

// ---------------------------------------------------------------------------
// Generic heuristic strategy
// ---------------------------------------------------------------------------

func TestGenericHeuristic_AccumulatesSignals(t *testing.T) {
	rpc := solana.NewStubRPCClient()

	// Signed init with wallet as authority but no metadata write:
	// 20 + 40 + 25 = 85.
	rpc.AddTransaction(mintTx("sig-strong", testWallet, initMintIx("mint-strong", testWallet)), solana.Pubkey(testWallet))

	// Unsigned init, wallet not the authority: base 20 only.
	rpc.AddTransaction(mintTx("sig-weak", otherKey, initMintIx("mint-weak", otherKey)), solana.Pubkey(testWallet))

	s := NewGenericHeuristicStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, result.Tokens, 2)

	scores := make(map[string]float64)
	for _, tok := range result.Tokens {
		assert.Equal(t, detection.MethodGenericHeuristic, tok.Method)
		assert.False(t, tok.AuthorityVerified)
		scores[tok.Address] = tok.RawConfidence
	}
	assert.Equal(t, float64(85), scores["mint-strong"])
	assert.Equal(t, float64(20), scores["mint-weak"])
}

func TestGenericHeuristic_CapsRawConfidence(t *testing.T) {
	rpc := solana.NewStubRPCClient()

	// All signals fire: 20 + 40 + 25 + 30 + 25 = 140, capped at 95.
	rpc.AddTransaction(mintTx("sig-all", testWallet,
		initMintIx("mint-max", testWallet),
		solana.InstructionInfo{ProgramID: solana.MetadataProgramID, Type: "createMetadataAccountV3"},
	), solana.Pubkey(testWallet))
	rpc.AddTransaction(mintTx("sig-ata", testWallet,
		solana.InstructionInfo{
			Program: "spl-associated-token-account",
			Type:    "create",
			Info:    map[string]any{"mint": "mint-max"},
		},
	), solana.Pubkey(testWallet))

	s := NewGenericHeuristicStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.Equal(t, float64(95), result.Tokens[0].RawConfidence)
}

func TestGenericHeuristic_TokenAccountWithoutInitIsIgnored(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.AddTransaction(mintTx("sig-ata-only", testWallet,
		solana.InstructionInfo{
			Program: "spl-associated-token-account",
			Type:    "create",
			Info:    map[string]any{"mint": "mint-never-inited"},
		},
	), solana.Pubkey(testWallet))

	s := NewGenericHeuristicStrategy(rpc)
	result, err := s.Detect(context.Background(), testWallet, testOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Tokens)
}

// ---------------------------------------------------------------------------
// Contract sanity across all built-ins
// ---------------------------------------------------------------------------

func TestStrategyContracts(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	idx := indexer.NewStub()

	all := []detection.Strategy{
		NewMintAuthorityStrategy(rpc),
		NewIndexerLookupStrategy(idx),
		NewPlatformEventStrategy(rpc),
		NewKnownProgramStrategy(rpc),
		NewGenericHeuristicStrategy(rpc),
	}

	seen := make(map[int]string)
	for _, s := range all {
		assert.NotEmpty(t, s.Name())
		assert.Greater(t, s.BaseConfidence(), float64(0))
		prev, dup := seen[s.Priority()]
		assert.False(t, dup, "priority %d shared by %s and %s", s.Priority(), prev, s.Name())
		seen[s.Priority()] = s.Name()
	}
}
