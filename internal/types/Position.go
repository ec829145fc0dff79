/*

This file contains the position record and the receipt types produced by the
transition engine.

A Position is one depositor's collateral/debt record. It is created lazily on
first deposit and never deleted; balances returning to zero is a valid state.
Position records are exclusively owned by the position ledger and only the
engine mutates them.

*/

package types

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Position is a depositor's collateral and debt record. Balances are kept in
// the smallest unit of their asset: lamports for the reserve, base units of
// the issued mint for debt.
type Position struct {
	Owner             solana.PublicKey `json:"owner"`
	CollateralBalance uint64           `json:"collateral_balance"` // lamports custodied for this position
	DebtBalance       uint64           `json:"debt_balance"`       // issued-asset units outstanding

	// Derived storage addresses, set once when the position is initialized.
	CollateralAccount solana.PublicKey `json:"collateral_account"`
	ReserveAccount    solana.PublicKey `json:"reserve_account"`
	Initialized       bool             `json:"initialized"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// TransitionType identifies which state transition a receipt records.
type TransitionType string

const (
	TransitionDepositAndMint TransitionType = "DEPOSIT_AND_MINT"
	TransitionRedeemAndBurn  TransitionType = "REDEEM_AND_BURN"
	TransitionLiquidate      TransitionType = "LIQUIDATE"
)

// TransitionReceipt records the outcome of a single transition, success or
// failure, for auditing and for the dashboard.
type TransitionReceipt struct {
	ReceiptID int64          `json:"receipt_id,omitempty"` // Auto-incremented by DB
	TraceID   string         `json:"trace_id"`
	Type      TransitionType `json:"type"`

	Owner  solana.PublicKey `json:"owner"`
	Caller solana.PublicKey `json:"caller"`

	// Amounts as supplied by the caller. Meaning depends on Type:
	// deposit/mint and redeem/burn carry reserve and issued-asset units,
	// liquidation carries the USD-denominated repayment and the reserve
	// payout actually transferred.
	CollateralAmount uint64 `json:"collateral_amount"`
	TokenAmount      uint64 `json:"token_amount"`

	// PriceUsed is the oracle price (10^8 scale) the transition was valued at.
	PriceUsed int64 `json:"price_used"`
	// HealthFactor is the post-transition health factor. For failed
	// transitions it is the value that caused the rejection, when one was
	// computed.
	HealthFactor uint64 `json:"health_factor"`

	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Signatures []string  `json:"signatures,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthSnapshot is one monitor-scan observation of the whole ledger.
type HealthSnapshot struct {
	SnapshotID      int64     `json:"snapshot_id,omitempty"`
	ScanNumber      int       `json:"scan_number"`
	Timestamp       time.Time `json:"timestamp"`
	Price           int64     `json:"price"` // 10^8 scale
	TotalCollateral uint64    `json:"total_collateral"`
	TotalDebt       uint64    `json:"total_debt"`
	PositionCount   int       `json:"position_count"`
	UnhealthyCount  int       `json:"unhealthy_count"`
	UnhealthyOwners []string  `json:"unhealthy_owners,omitempty"`
}
