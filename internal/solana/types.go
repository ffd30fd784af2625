package solana

import (
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known program IDs relevant to token creation.
const (
	// TokenProgramID is the SPL Token program.
	TokenProgramID Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// Token2022ProgramID is the SPL Token-2022 program.
	Token2022ProgramID Pubkey = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"

	// PumpFunProgramID is the Pump.fun launchpad program.
	PumpFunProgramID Pubkey = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

	// MetadataProgramID is the Metaplex token metadata program.
	MetadataProgramID Pubkey = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
)

// IsValidAddress reports whether s decodes to a 32-byte base58 public key.
func IsValidAddress(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}

// ---------------------------------------------------------------------------
// Account & transaction types
// ---------------------------------------------------------------------------

// MintInfo describes the current on-chain state of an SPL token mint.
type MintInfo struct {
	Mint            Pubkey          `json:"mint"`
	Decimals        uint8           `json:"decimals"`
	Supply          decimal.Decimal `json:"supply"`
	MintAuthority   Pubkey          `json:"mint_authority"`   // empty = renounced
	FreezeAuthority Pubkey          `json:"freeze_authority"` // empty = renounced
}

// IsAuthorityRenounced returns true if nobody can mint further supply.
func (m MintInfo) IsAuthorityRenounced() bool {
	return m.MintAuthority == ""
}

// SignatureInfo is one entry from getSignaturesForAddress.
type SignatureInfo struct {
	Signature Signature `json:"signature"`
	Slot      uint64    `json:"slot"`
	BlockTime time.Time `json:"block_time"`
	Failed    bool      `json:"failed"`
}

// InstructionInfo is a parsed instruction, top-level or inner.
type InstructionInfo struct {
	ProgramID Pubkey         `json:"program_id"`
	Program   string         `json:"program,omitempty"` // parsed program name, e.g. "spl-token"
	Type      string         `json:"type,omitempty"`    // parsed instruction type, e.g. "initializeMint"
	Accounts  []Pubkey       `json:"accounts,omitempty"`
	Info      map[string]any `json:"info,omitempty"`
}

// InfoString returns a parsed info field as a string, or "" when absent or
// not a string.
func (i InstructionInfo) InfoString(key string) string {
	v, ok := i.Info[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// TransactionDetail is a parsed confirmed transaction.
type TransactionDetail struct {
	Signature    Signature         `json:"signature"`
	Slot         uint64            `json:"slot"`
	BlockTime    time.Time         `json:"block_time"`
	Signers      []Pubkey          `json:"signers"`
	Instructions []InstructionInfo `json:"instructions"` // top-level followed by inner
}

// SignedBy reports whether the wallet signed the transaction.
func (t TransactionDetail) SignedBy(wallet Pubkey) bool {
	for _, s := range t.Signers {
		if s == wallet {
			return true
		}
	}
	return false
}

// FeePayer returns the first signer, the transaction's fee payer.
func (t TransactionDetail) FeePayer() Pubkey {
	if len(t.Signers) == 0 {
		return ""
	}
	return t.Signers[0]
}
