package custody

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// TokenLedger defines the interface for the asset-movement collaborator.
// Every operation either fully succeeds or fails with no partial transfer;
// the engine sequences calls so that a failure before full commit leaves no
// ledger state partially applied.
type TokenLedger interface {
	// DepositReserve moves lamports from the depositor into the position's
	// reserve custody account. Returns the transaction signature.
	DepositReserve(ctx context.Context, from solana.PublicKey, reserveAccount solana.PublicKey, lamports uint64) (string, error)

	// ReleaseReserve moves lamports out of the position's reserve custody
	// account to the recipient (the owner on redeem, the liquidator on
	// liquidation).
	ReleaseReserve(ctx context.Context, reserveAccount solana.PublicKey, to solana.PublicKey, lamports uint64) (string, error)

	// MintIssued mints issued-asset units to the recipient's token account.
	MintIssued(ctx context.Context, to solana.PublicKey, amount uint64) (string, error)

	// BurnIssued burns issued-asset units from the holder's token account.
	BurnIssued(ctx context.Context, from solana.PublicKey, amount uint64) (string, error)

	// ReserveBalance reports the actual lamports held by a reserve custody
	// account. Liquidation resynchronizes ledger balances from this value.
	ReserveBalance(ctx context.Context, reserveAccount solana.PublicKey) (uint64, error)

	// Close cleans up any resources used by the token ledger.
	Close() error
}
