/*

This file contains the collateral engine and its three state transitions:
deposit-and-mint, redeem-and-burn, and liquidation.

Every transition runs as one indivisible unit: it loads a copy of the target
position, fetches exactly one validated price reading, computes the full
post-transition state, gates on the solvency invariant, executes the external
asset movements, and only then commits the new position to the ledger. Any
failed step aborts the whole transition with a typed error and no partial
balance mutation. An engine-level mutex provides the serializability the
transition contract assumes.

*/

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solmint/sce/internal/accounts"
	"github.com/solmint/sce/internal/custody"
	"github.com/solmint/sce/internal/ledger"
	"github.com/solmint/sce/internal/logger"
	"github.com/solmint/sce/internal/oracle"
	"github.com/solmint/sce/internal/state"
	"github.com/solmint/sce/internal/types"
	"github.com/solmint/sce/internal/utils"
)

// Engine owns the position ledger and executes state transitions against it.
type Engine struct {
	// Core dependencies
	logger  zerolog.Logger
	cfg     types.ProtocolConfig
	ledger  *ledger.Ledger
	oracle  *oracle.Adapter
	tokens  custody.TokenLedger
	deriver *accounts.Deriver

	// mu serializes transitions; the per-call atomicity contract assumes no
	// two transitions interleave.
	mu sync.Mutex
}

// Config holds the dependencies for creating a new Engine instance.
type Config struct {
	ProtocolConfig types.ProtocolConfig
	Ledger         *ledger.Ledger
	Oracle         *oracle.Adapter
	TokenLedger    custody.TokenLedger
	Deriver        *accounts.Deriver
}

// NewEngine creates an engine instance with dependency injection.
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:  logger.GetForComponent("engine_core"),
		cfg:     cfg.ProtocolConfig,
		ledger:  cfg.Ledger,
		oracle:  cfg.Oracle,
		tokens:  cfg.TokenLedger,
		deriver: cfg.Deriver,
	}

	e.logger.Info().
		Uint64("liquidationThreshold", e.cfg.LiquidationThreshold).
		Uint64("liquidationBonus", e.cfg.LiquidationBonus).
		Uint64("minHealthFactor", e.cfg.MinHealthFactor).
		Msg("Engine instance created")

	return e, nil
}

// validateEngineConfig validates the engine configuration.
func validateEngineConfig(cfg Config) error {
	if err := cfg.ProtocolConfig.Validate(); err != nil {
		return err
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("position ledger cannot be nil")
	}
	if cfg.Oracle == nil {
		return fmt.Errorf("oracle adapter cannot be nil")
	}
	if cfg.TokenLedger == nil {
		return fmt.Errorf("token ledger cannot be nil")
	}
	if cfg.Deriver == nil {
		return fmt.Errorf("account deriver cannot be nil")
	}
	return nil
}

// ProtocolConfig returns the engine's current protocol configuration.
func (e *Engine) ProtocolConfig() types.ProtocolConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateMinHealthFactor is the privileged configuration path: only the
// configured authority may move the solvency floor. The change is persisted
// as a new active configuration version before the engine adopts it.
func (e *Engine) UpdateMinHealthFactor(caller solana.PublicKey, minHealthFactor uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !caller.Equals(e.cfg.Authority) {
		return fmt.Errorf("%w: %s is not the config authority", types.ErrUnauthorized, caller)
	}

	next := e.cfg
	next.MinHealthFactor = minHealthFactor
	if err := next.Validate(); err != nil {
		return err
	}

	updated, err := state.UpdateMinHealthFactor(e.cfg, minHealthFactor)
	if err != nil {
		// No database is a valid deployment for the in-memory ledger; the
		// engine still adopts the new value.
		e.logger.Warn().Err(err).Msg("Failed to persist configuration update")
		next.Version = e.cfg.Version + 1
		e.cfg = next
		return nil
	}

	e.cfg = *updated
	e.logger.Info().Uint64("minHealthFactor", minHealthFactor).Int("version", e.cfg.Version).Msg("Minimum health factor updated")
	return nil
}

// Positions returns a snapshot of every position in the ledger.
func (e *Engine) Positions() []types.Position {
	return e.ledger.All()
}

// Position returns a copy of one position.
func (e *Engine) Position(owner solana.PublicKey) (types.Position, bool) {
	return e.ledger.Get(owner)
}

// PositionHealth pairs a position with its health factor.
type PositionHealth struct {
	types.Position
	HealthFactor uint64 `json:"health_factor"`
	HealthError  string `json:"health_error,omitempty"`
}

// PositionHealths values every position against one fresh oracle reading, so
// a single listing can never mix prices. Returns the price used alongside
// the valuations.
func (e *Engine) PositionHealths(ctx context.Context) ([]PositionHealth, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reading, err := e.oracle.CurrentReading(ctx)
	if err != nil {
		return nil, 0, err
	}

	positions := e.ledger.All()
	healths := make([]PositionHealth, 0, len(positions))
	for _, pos := range positions {
		health := PositionHealth{Position: pos}
		hf, err := calculateHealthFactor(pos.CollateralBalance, pos.DebtBalance, e.cfg, reading)
		if err != nil {
			health.HealthError = err.Error()
		} else {
			health.HealthFactor = hf
		}
		healths = append(healths, health)
	}
	return healths, reading.Price, nil
}

// HealthFactor reports the current health factor of a position at a fresh
// oracle reading.
func (e *Engine) HealthFactor(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.ledger.Get(owner)
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrPositionNotFound, owner)
	}

	reading, err := e.oracle.CurrentReading(ctx)
	if err != nil {
		return 0, err
	}

	return calculateHealthFactor(pos.CollateralBalance, pos.DebtBalance, e.cfg, reading)
}

// DepositAndMint increases a position's collateral by depositAmount lamports
// and its debt by mintAmount issued units, creating the position on first
// use. The solvency check runs on the post-mutation balances and gates the
// external asset movements: nothing moves if the resulting position would be
// below the minimum health factor.
func (e *Engine) DepositAndMint(ctx context.Context, depositor solana.PublicKey, depositAmount, mintAmount uint64) (*types.TransitionReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	receipt := e.newReceipt(types.TransitionDepositAndMint, depositor, depositor, depositAmount, mintAmount)
	tlog := e.logger.With().Str("trace_id", receipt.TraceID).Str("owner", depositor.String()).Logger()

	pos, ok := e.ledger.Get(depositor)
	if !ok {
		pos = types.Position{Owner: depositor}
	}
	if !pos.Initialized {
		if err := e.initializePosition(&pos); err != nil {
			return e.reject(receipt, tlog, fmt.Errorf("failed to initialize position: %w", err))
		}
	}

	newCollateral, err := utils.CheckedAdd(pos.CollateralBalance, depositAmount)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: collateral balance: %s", types.ErrMath, err.Error()))
	}
	newDebt, err := utils.CheckedAdd(pos.DebtBalance, mintAmount)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: debt balance: %s", types.ErrMath, err.Error()))
	}

	reading, err := e.oracle.CurrentReading(ctx)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	receipt.PriceUsed = reading.Price

	healthFactor, err := calculateHealthFactor(newCollateral, newDebt, e.cfg, reading)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	receipt.HealthFactor = healthFactor

	if healthFactor < e.cfg.MinHealthFactor {
		return e.reject(receipt, tlog, fmt.Errorf("%w: %d < %d", types.ErrBelowMinimumHealthFactor, healthFactor, e.cfg.MinHealthFactor))
	}

	// Solvency is proven; only now may assets move.
	if depositAmount > 0 {
		sig, err := e.tokens.DepositReserve(ctx, depositor, pos.ReserveAccount, depositAmount)
		if err != nil {
			return e.reject(receipt, tlog, fmt.Errorf("reserve deposit failed: %w", err))
		}
		receipt.Signatures = append(receipt.Signatures, sig)
	}
	if mintAmount > 0 {
		sig, err := e.tokens.MintIssued(ctx, depositor, mintAmount)
		if err != nil {
			// The reserve transfer already settled; return it so no state
			// is partially applied.
			if depositAmount > 0 {
				if refundSig, refundErr := e.tokens.ReleaseReserve(ctx, pos.ReserveAccount, depositor, depositAmount); refundErr != nil {
					tlog.Error().Err(refundErr).Msg("CRITICAL: compensating refund failed; custody and ledger disagree")
				} else {
					receipt.Signatures = append(receipt.Signatures, refundSig)
				}
			}
			return e.reject(receipt, tlog, fmt.Errorf("token mint failed: %w", err))
		}
		receipt.Signatures = append(receipt.Signatures, sig)
	}

	pos.CollateralBalance = newCollateral
	pos.DebtBalance = newDebt
	e.commit(pos, &receipt, tlog)

	tlog.Info().
		Uint64("depositAmount", depositAmount).
		Uint64("mintAmount", mintAmount).
		Uint64("healthFactor", healthFactor).
		Msg("Deposit and mint committed")

	return &receipt, nil
}

// RedeemAndBurn decreases a position's collateral and debt. It is strictly
// self-service: only the position owner may redeem. Both amounts are bounded
// by the recorded balances, and the post-state must stay above the solvency
// floor. Custody release and token burn happen only after the check passes.
func (e *Engine) RedeemAndBurn(ctx context.Context, caller solana.PublicKey, owner solana.PublicKey, collateralAmount, burnAmount uint64) (*types.TransitionReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	receipt := e.newReceipt(types.TransitionRedeemAndBurn, owner, caller, collateralAmount, burnAmount)
	tlog := e.logger.With().Str("trace_id", receipt.TraceID).Str("owner", owner.String()).Logger()

	if !caller.Equals(owner) {
		return e.reject(receipt, tlog, fmt.Errorf("%w: %s is not the position owner", types.ErrUnauthorized, caller))
	}

	pos, ok := e.ledger.Get(owner)
	if !ok {
		return e.reject(receipt, tlog, fmt.Errorf("%w: %s", types.ErrPositionNotFound, owner))
	}

	newCollateral, err := utils.CheckedSub(pos.CollateralBalance, collateralAmount)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: collateral balance: %s", types.ErrMath, err.Error()))
	}
	newDebt, err := utils.CheckedSub(pos.DebtBalance, burnAmount)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: debt balance: %s", types.ErrMath, err.Error()))
	}

	reading, err := e.oracle.CurrentReading(ctx)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	receipt.PriceUsed = reading.Price

	healthFactor, err := calculateHealthFactor(newCollateral, newDebt, e.cfg, reading)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	receipt.HealthFactor = healthFactor

	if healthFactor < e.cfg.MinHealthFactor {
		return e.reject(receipt, tlog, fmt.Errorf("%w: %d < %d", types.ErrBelowMinimumHealthFactor, healthFactor, e.cfg.MinHealthFactor))
	}

	if burnAmount > 0 {
		sig, err := e.tokens.BurnIssued(ctx, owner, burnAmount)
		if err != nil {
			return e.reject(receipt, tlog, fmt.Errorf("token burn failed: %w", err))
		}
		receipt.Signatures = append(receipt.Signatures, sig)
	}
	if collateralAmount > 0 {
		sig, err := e.tokens.ReleaseReserve(ctx, pos.ReserveAccount, owner, collateralAmount)
		if err != nil {
			// The burn already settled; re-mint so no state is partially
			// applied.
			if burnAmount > 0 {
				if mintSig, mintErr := e.tokens.MintIssued(ctx, owner, burnAmount); mintErr != nil {
					tlog.Error().Err(mintErr).Msg("CRITICAL: compensating re-mint failed; custody and ledger disagree")
				} else {
					receipt.Signatures = append(receipt.Signatures, mintSig)
				}
			}
			return e.reject(receipt, tlog, fmt.Errorf("reserve release failed: %w", err))
		}
		receipt.Signatures = append(receipt.Signatures, sig)
	}

	pos.CollateralBalance = newCollateral
	pos.DebtBalance = newDebt
	e.commit(pos, &receipt, tlog)

	tlog.Info().
		Uint64("collateralAmount", collateralAmount).
		Uint64("burnAmount", burnAmount).
		Uint64("healthFactor", healthFactor).
		Msg("Redeem and burn committed")

	return &receipt, nil
}

// Liquidate lets a third party repay burnAmountUsd of an unhealthy
// position's debt in exchange for the equivalent collateral plus the
// liquidation bonus. It is the only transition that requires the target to
// be below the solvency floor, and partial liquidation is expected: repeated
// calls heal the position round by round.
func (e *Engine) Liquidate(ctx context.Context, liquidator solana.PublicKey, owner solana.PublicKey, burnAmountUsd uint64) (*types.TransitionReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	receipt := e.newReceipt(types.TransitionLiquidate, owner, liquidator, 0, burnAmountUsd)
	tlog := e.logger.With().
		Str("trace_id", receipt.TraceID).
		Str("owner", owner.String()).
		Str("liquidator", liquidator.String()).
		Logger()

	pos, ok := e.ledger.Get(owner)
	if !ok {
		return e.reject(receipt, tlog, fmt.Errorf("%w: %s", types.ErrPositionNotFound, owner))
	}

	reading, err := e.oracle.CurrentReading(ctx)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	receipt.PriceUsed = reading.Price

	currentHealthFactor, err := calculateHealthFactor(pos.CollateralBalance, pos.DebtBalance, e.cfg, reading)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	if currentHealthFactor >= e.cfg.MinHealthFactor {
		receipt.HealthFactor = currentHealthFactor
		return e.reject(receipt, tlog, fmt.Errorf("%w: %d >= %d", types.ErrAboveMinimumHealthFactor, currentHealthFactor, e.cfg.MinHealthFactor))
	}

	baseCollateral, err := oracle.LamportsFromUsd(reading, burnAmountUsd)
	if err != nil {
		return e.reject(receipt, tlog, err)
	}
	bonusNumerator, err := utils.CheckedMul(baseCollateral, e.cfg.LiquidationBonus)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: liquidation bonus: %s", types.ErrMath, err.Error()))
	}
	bonus := bonusNumerator / 100
	totalPayout, err := utils.CheckedAdd(baseCollateral, bonus)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: liquidation payout: %s", types.ErrMath, err.Error()))
	}
	receipt.CollateralAmount = totalPayout

	// The liquidator repays debt denominated one-to-one in issued units.
	newDebt, err := utils.CheckedSub(pos.DebtBalance, burnAmountUsd)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("%w: debt balance: %s", types.ErrMath, err.Error()))
	}
	if totalPayout > pos.CollateralBalance {
		return e.reject(receipt, tlog, fmt.Errorf("%w: payout %d exceeds custodied collateral %d", types.ErrMath, totalPayout, pos.CollateralBalance))
	}

	burnSig, err := e.tokens.BurnIssued(ctx, liquidator, burnAmountUsd)
	if err != nil {
		return e.reject(receipt, tlog, fmt.Errorf("token burn failed: %w", err))
	}
	receipt.Signatures = append(receipt.Signatures, burnSig)

	payoutSig, err := e.tokens.ReleaseReserve(ctx, pos.ReserveAccount, liquidator, totalPayout)
	if err != nil {
		if mintSig, mintErr := e.tokens.MintIssued(ctx, liquidator, burnAmountUsd); mintErr != nil {
			tlog.Error().Err(mintErr).Msg("CRITICAL: compensating re-mint failed; custody and ledger disagree")
		} else {
			receipt.Signatures = append(receipt.Signatures, mintSig)
		}
		return e.reject(receipt, tlog, fmt.Errorf("collateral payout failed: %w", err))
	}
	receipt.Signatures = append(receipt.Signatures, payoutSig)

	// The payout was an external movement; resynchronize the ledger from the
	// custody's actual remaining balance rather than trusting the projected
	// decrement. A failed lookup falls back to the arithmetic decrement and
	// is flagged on the receipt so the divergence is auditable.
	remaining, err := e.tokens.ReserveBalance(ctx, pos.ReserveAccount)
	if err != nil {
		tlog.Warn().Err(err).Msg("Failed to resynchronize collateral from custody, falling back to arithmetic decrement")
		remaining = pos.CollateralBalance - totalPayout
		receipt.Message = "collateral resync unavailable, balance projected from arithmetic decrement"
	}
	pos.CollateralBalance = remaining
	pos.DebtBalance = newDebt

	// Post-liquidation health is recorded for observability only. A position
	// may still be unhealthy here; further liquidation rounds are expected.
	finalHealthFactor, err := calculateHealthFactor(pos.CollateralBalance, pos.DebtBalance, e.cfg, reading)
	if err != nil {
		tlog.Warn().Err(err).Msg("Failed to compute post-liquidation health factor")
	} else {
		receipt.HealthFactor = finalHealthFactor
		if finalHealthFactor < e.cfg.MinHealthFactor {
			tlog.Warn().Uint64("healthFactor", finalHealthFactor).Msg("Position remains unhealthy after liquidation")
		}
	}

	e.commit(pos, &receipt, tlog)

	tlog.Info().
		Uint64("burnAmountUsd", burnAmountUsd).
		Uint64("baseCollateral", baseCollateral).
		Uint64("bonus", bonus).
		Uint64("totalPayout", totalPayout).
		Uint64("remainingCollateral", pos.CollateralBalance).
		Uint64("remainingDebt", pos.DebtBalance).
		Msg("Liquidation committed")

	return &receipt, nil
}

// initializePosition fills in the derived storage addresses on first use.
func (e *Engine) initializePosition(pos *types.Position) error {
	collateralAccount, _, err := e.deriver.CollateralAccount(pos.Owner)
	if err != nil {
		return err
	}
	reserveAccount, _, err := e.deriver.ReserveAccount(pos.Owner)
	if err != nil {
		return err
	}
	pos.CollateralAccount = collateralAccount
	pos.ReserveAccount = reserveAccount
	pos.Initialized = true
	return nil
}

// newReceipt starts a receipt with a fresh trace ID.
func (e *Engine) newReceipt(t types.TransitionType, owner, caller solana.PublicKey, collateralAmount, tokenAmount uint64) types.TransitionReceipt {
	return types.TransitionReceipt{
		TraceID:          uuid.New().String(),
		Type:             t,
		Owner:            owner,
		Caller:           caller,
		CollateralAmount: collateralAmount,
		TokenAmount:      tokenAmount,
		Timestamp:        time.Now(),
	}
}

// reject records a failed receipt and returns the typed error. The ledger is
// untouched on every rejection path.
func (e *Engine) reject(receipt types.TransitionReceipt, tlog zerolog.Logger, cause error) (*types.TransitionReceipt, error) {
	receipt.Success = false
	receipt.Message = cause.Error()
	e.saveReceipt(receipt, tlog)

	tlog.Warn().Err(cause).Str("type", string(receipt.Type)).Msg("Transition rejected")
	return nil, cause
}

// commit stores the position, writes it through to the database and records
// the successful receipt.
func (e *Engine) commit(pos types.Position, receipt *types.TransitionReceipt, tlog zerolog.Logger) {
	e.ledger.Commit(pos)

	if err := state.SavePosition(pos); err != nil {
		tlog.Error().Err(err).Msg("Failed to persist position")
	}

	receipt.Success = true
	e.saveReceipt(*receipt, tlog)
}

func (e *Engine) saveReceipt(receipt types.TransitionReceipt, tlog zerolog.Logger) {
	if _, err := state.SaveTransitionReceipt(receipt); err != nil {
		tlog.Error().Err(err).Msg("Failed to persist transition receipt")
	}
}
