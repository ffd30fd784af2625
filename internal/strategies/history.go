// Package strategies implements the built-in token-creation detection
// strategies: on-chain authority verification, indexer lookups, launchpad
// creation events, and transaction-history heuristics.
package strategies

import (
	"context"

	"github.com/minttrace/minttrace/internal/detection"
	"github.com/minttrace/minttrace/internal/solana"
)

const signaturePageSize = 1000

// historyScan holds the transactions fetched from a wallet's history plus
// the best-effort counts the scan metadata reports.
type historyScan struct {
	Transactions []*solana.TransactionDetail
	Scanned      int
	Total        int
}

// scanHistory pages the wallet's signatures newest-first and fetches parsed
// transactions until opts.MaxTransactions is reached, the history ends, or
// the context expires. Signatures in a page are always counted toward Total,
// even past the fetch cap, so the metadata can show how much history was
// left unscanned. A scan cut short by the budget returns what it has with a
// nil error; only a failure before anything was fetched is an error.
func scanHistory(ctx context.Context, rpc solana.RPCClient, wallet string, opts detection.Options) (historyScan, error) {
	var scan historyScan

	before := solana.Signature(opts.BeforeSignature)

	for {
		sigs, err := rpc.GetSignaturesForAddress(ctx, solana.Pubkey(wallet), signaturePageSize, before)
		if err != nil {
			if scan.Scanned > 0 {
				return scan, nil
			}
			return scan, err
		}
		if len(sigs) == 0 {
			break
		}
		scan.Total += len(sigs)

		for _, si := range sigs {
			before = si.Signature
			if si.Failed || scan.Scanned >= opts.MaxTransactions {
				continue
			}
			if ctx.Err() != nil {
				return scan, nil
			}

			tx, err := rpc.GetTransaction(ctx, si.Signature)
			if err != nil {
				// One unfetchable transaction never sinks the scan.
				continue
			}

			scan.Transactions = append(scan.Transactions, tx)
			scan.Scanned++
		}

		if len(sigs) < signaturePageSize || scan.Scanned >= opts.MaxTransactions {
			break
		}
	}

	return scan, nil
}

// isInitializeMint reports whether the instruction creates a new SPL mint.
func isInitializeMint(inst solana.InstructionInfo) bool {
	if inst.Program != "spl-token" &&
		inst.ProgramID != solana.TokenProgramID &&
		inst.ProgramID != solana.Token2022ProgramID {
		return false
	}
	return inst.Type == "initializeMint" || inst.Type == "initializeMint2"
}
