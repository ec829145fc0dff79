package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmint/sce/internal/accounts"
	"github.com/solmint/sce/internal/ledger"
	"github.com/solmint/sce/internal/oracle"
	"github.com/solmint/sce/internal/types"
)

// stubPriceSource serves a mutable price with a fresh timestamp, so tests can
// move the market between transitions.
type stubPriceSource struct {
	price int64
}

func (s *stubPriceSource) CurrentPrice(ctx context.Context, feedID string) (types.PriceReading, error) {
	return types.PriceReading{FeedID: feedID, Price: s.price, ObservedAt: time.Now()}, nil
}

// fakeTokenLedger tracks reserve and issued balances in memory and supports
// injected failures for the atomicity tests.
type fakeTokenLedger struct {
	reserves map[solana.PublicKey]uint64
	issued   map[solana.PublicKey]uint64

	failMint    bool
	failRelease bool
	failBalance bool

	sigCounter int
}

func newFakeTokenLedger() *fakeTokenLedger {
	return &fakeTokenLedger{
		reserves: make(map[solana.PublicKey]uint64),
		issued:   make(map[solana.PublicKey]uint64),
	}
}

func (f *fakeTokenLedger) nextSig() string {
	f.sigCounter++
	return fmt.Sprintf("sig-%d", f.sigCounter)
}

func (f *fakeTokenLedger) DepositReserve(ctx context.Context, from solana.PublicKey, reserveAccount solana.PublicKey, lamports uint64) (string, error) {
	f.reserves[reserveAccount] += lamports
	return f.nextSig(), nil
}

func (f *fakeTokenLedger) ReleaseReserve(ctx context.Context, reserveAccount solana.PublicKey, to solana.PublicKey, lamports uint64) (string, error) {
	if f.failRelease {
		return "", fmt.Errorf("injected release failure")
	}
	if f.reserves[reserveAccount] < lamports {
		return "", fmt.Errorf("insufficient reserve balance: %d < %d", f.reserves[reserveAccount], lamports)
	}
	f.reserves[reserveAccount] -= lamports
	return f.nextSig(), nil
}

func (f *fakeTokenLedger) MintIssued(ctx context.Context, to solana.PublicKey, amount uint64) (string, error) {
	if f.failMint {
		return "", fmt.Errorf("injected mint failure")
	}
	f.issued[to] += amount
	return f.nextSig(), nil
}

func (f *fakeTokenLedger) BurnIssued(ctx context.Context, from solana.PublicKey, amount uint64) (string, error) {
	if f.issued[from] < amount {
		return "", fmt.Errorf("insufficient issued balance: %d < %d", f.issued[from], amount)
	}
	f.issued[from] -= amount
	return f.nextSig(), nil
}

func (f *fakeTokenLedger) ReserveBalance(ctx context.Context, reserveAccount solana.PublicKey) (uint64, error) {
	if f.failBalance {
		return 0, fmt.Errorf("injected balance failure")
	}
	return f.reserves[reserveAccount], nil
}

func (f *fakeTokenLedger) Close() error { return nil }

type testHarness struct {
	engine    *Engine
	source    *stubPriceSource
	tokens    *fakeTokenLedger
	ledger    *ledger.Ledger
	authority solana.PublicKey
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	source := &stubPriceSource{price: 100_0000_0000} // $100
	adapter, err := oracle.NewAdapter(source, "feed", 100*time.Second)
	require.NoError(t, err)

	deriver, err := accounts.NewDeriver(solana.TokenProgramID.String())
	require.NoError(t, err)

	tokens := newFakeTokenLedger()
	positionLedger := ledger.New()
	authority := solana.NewWallet().PublicKey()

	cfg := testProtocolConfig()
	cfg.Authority = authority

	eng, err := NewEngine(Config{
		ProtocolConfig: cfg,
		Ledger:         positionLedger,
		Oracle:         adapter,
		TokenLedger:    tokens,
		Deriver:        deriver,
	})
	require.NoError(t, err)

	return &testHarness{
		engine:    eng,
		source:    source,
		tokens:    tokens,
		ledger:    positionLedger,
		authority: authority,
	}
}

func TestDepositAndMint(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	receipt, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	assert.True(t, receipt.Success)
	assert.Equal(t, types.TransitionDepositAndMint, receipt.Type)
	assert.Equal(t, uint64(1), receipt.HealthFactor)
	assert.Equal(t, int64(100_0000_0000), receipt.PriceUsed)
	assert.Len(t, receipt.Signatures, 2)

	pos, ok := h.ledger.Get(owner)
	require.True(t, ok)
	assert.True(t, pos.Initialized)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(90_000_000_000), pos.DebtBalance)

	assert.Equal(t, uint64(2_000_000_000), h.tokens.reserves[pos.ReserveAccount])
	assert.Equal(t, uint64(90_000_000_000), h.tokens.issued[owner])
}

func TestDepositAndMintRejectsUndercollateralized(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	// 2 SOL at $100 carries 100 USD of borrowing power; asking for one unit
	// more must be rejected outright.
	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 100_000_000_001)
	assert.ErrorIs(t, err, types.ErrBelowMinimumHealthFactor)

	_, ok := h.ledger.Get(owner)
	assert.False(t, ok)
	assert.Empty(t, h.tokens.reserves)
	assert.Empty(t, h.tokens.issued)
}

func TestDepositAndMintGrowsExistingPosition(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)

	_, err = h.engine.DepositAndMint(context.Background(), owner, 1_000_000_000, 40_000_000_000)
	require.NoError(t, err)

	pos, ok := h.ledger.Get(owner)
	require.True(t, ok)
	assert.Equal(t, uint64(3_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(90_000_000_000), pos.DebtBalance)
}

func TestDepositAndMintRefundsOnMintFailure(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	h.tokens.failMint = true
	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.Error(t, err)

	// The reserve transfer settled before the mint failed; the refund must
	// have returned it and the ledger must show no position.
	_, ok := h.ledger.Get(owner)
	assert.False(t, ok)
	for reserve, balance := range h.tokens.reserves {
		assert.Zero(t, balance, "reserve %s should be refunded", reserve)
	}
}

func TestRedeemAndBurn(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.RedeemAndBurn(context.Background(), owner, owner, 500_000_000, 30_000_000_000)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, types.TransitionRedeemAndBurn, receipt.Type)

	pos, ok := h.ledger.Get(owner)
	require.True(t, ok)
	assert.Equal(t, uint64(1_500_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(20_000_000_000), pos.DebtBalance)

	assert.Equal(t, uint64(1_500_000_000), h.tokens.reserves[pos.ReserveAccount])
	assert.Equal(t, uint64(20_000_000_000), h.tokens.issued[owner])
}

func TestRedeemAndBurnFullExit(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.RedeemAndBurn(context.Background(), owner, owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxHealthFactor), receipt.HealthFactor)

	// The position survives at zero balances.
	pos, ok := h.ledger.Get(owner)
	require.True(t, ok)
	assert.Zero(t, pos.CollateralBalance)
	assert.Zero(t, pos.DebtBalance)
	assert.Zero(t, h.tokens.reserves[pos.ReserveAccount])
	assert.Zero(t, h.tokens.issued[owner])
}

func TestRedeemAndBurnUnknownPosition(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.RedeemAndBurn(context.Background(), owner, owner, 1, 0)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestRedeemAndBurnRejectsNonOwner(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)

	// Redeeming is self-service; a third party must not be able to force a
	// burn against someone else's position.
	_, err = h.engine.RedeemAndBurn(context.Background(), stranger, owner, 500_000_000, 30_000_000_000)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(50_000_000_000), pos.DebtBalance)
	assert.Equal(t, uint64(50_000_000_000), h.tokens.issued[owner])
	assert.Equal(t, uint64(2_000_000_000), h.tokens.reserves[pos.ReserveAccount])
}

func TestRedeemAndBurnExceedsBalances(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)

	_, err = h.engine.RedeemAndBurn(context.Background(), owner, owner, 2_000_000_001, 0)
	assert.ErrorIs(t, err, types.ErrMath)

	_, err = h.engine.RedeemAndBurn(context.Background(), owner, owner, 0, 50_000_000_001)
	assert.ErrorIs(t, err, types.ErrMath)

	// Balances untouched by the failed attempts.
	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(50_000_000_000), pos.DebtBalance)
}

func TestRedeemAndBurnRejectsBreakingHealthFactor(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	// Withdrawing half the collateral without repaying would leave 50 USD of
	// borrowing power against 90 USD of debt.
	_, err = h.engine.RedeemAndBurn(context.Background(), owner, owner, 1_000_000_000, 0)
	assert.ErrorIs(t, err, types.ErrBelowMinimumHealthFactor)

	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
}

func TestRedeemAndBurnCompensatesOnReleaseFailure(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 50_000_000_000)
	require.NoError(t, err)

	h.tokens.failRelease = true
	_, err = h.engine.RedeemAndBurn(context.Background(), owner, owner, 500_000_000, 30_000_000_000)
	require.Error(t, err)

	// The burn settled before the release failed; the compensating re-mint
	// restores the holder and the ledger stays at the pre-transition state.
	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(50_000_000_000), pos.DebtBalance)
	assert.Equal(t, uint64(50_000_000_000), h.tokens.issued[owner])
	assert.Equal(t, uint64(2_000_000_000), h.tokens.reserves[pos.ReserveAccount])
}

func TestLiquidateRequiresUnhealthyPosition(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()
	liquidator := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	_, err = h.engine.Liquidate(context.Background(), liquidator, owner, 10_000_000_000)
	assert.ErrorIs(t, err, types.ErrAboveMinimumHealthFactor)
}

func TestLiquidatePaysBonusAndResyncsCollateral(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()
	liquidator := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	// The price falls from $100 to $40 and the position goes underwater.
	h.source.price = 40_0000_0000
	h.tokens.issued[liquidator] = 45_000_000_000

	receipt, err := h.engine.Liquidate(context.Background(), liquidator, owner, 45_000_000_000)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, types.TransitionLiquidate, receipt.Type)

	// Repaying 45 USD at $40 buys 1.125 SOL of collateral plus a 10% bonus:
	// 1.2375 SOL total.
	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(1_237_500_000), receipt.CollateralAmount)
	assert.Equal(t, uint64(762_500_000), pos.CollateralBalance)
	assert.Equal(t, uint64(45_000_000_000), pos.DebtBalance)

	// The liquidator's repayment was burned and the payout released.
	assert.Zero(t, h.tokens.issued[liquidator])
	assert.Equal(t, uint64(762_500_000), h.tokens.reserves[pos.ReserveAccount])
}

func TestLiquidateFallsBackWhenBalanceLookupFails(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()
	liquidator := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	h.source.price = 40_0000_0000
	h.tokens.issued[liquidator] = 45_000_000_000
	h.tokens.failBalance = true

	receipt, err := h.engine.Liquidate(context.Background(), liquidator, owner, 45_000_000_000)
	require.NoError(t, err)

	// With the custody lookup unavailable the ledger falls back to the
	// arithmetic decrement, which matches the fake's actual movement, and
	// the receipt carries the divergence for the audit trail.
	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(762_500_000), pos.CollateralBalance)
	assert.True(t, receipt.Success)
	assert.Contains(t, receipt.Message, "resync unavailable")
}

func TestLiquidatePartialDoesNotOverpay(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()
	liquidator := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	// At $40, repaying the full 90 USD debt would claim 2.475 SOL against
	// only 2 SOL of custodied collateral. That round must be rejected before
	// any asset moves.
	h.source.price = 40_0000_0000
	h.tokens.issued[liquidator] = 90_000_000_000

	_, err = h.engine.Liquidate(context.Background(), liquidator, owner, 90_000_000_000)
	assert.ErrorIs(t, err, types.ErrMath)

	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(90_000_000_000), pos.DebtBalance)
	assert.Equal(t, uint64(90_000_000_000), h.tokens.issued[liquidator])

	// A smaller round still goes through.
	_, err = h.engine.Liquidate(context.Background(), liquidator, owner, 45_000_000_000)
	assert.NoError(t, err)
}

func TestLiquidateCompensatesOnPayoutFailure(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()
	liquidator := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	h.source.price = 40_0000_0000
	h.tokens.issued[liquidator] = 45_000_000_000
	h.tokens.failRelease = true

	_, err = h.engine.Liquidate(context.Background(), liquidator, owner, 45_000_000_000)
	require.Error(t, err)

	// The repayment burn is re-minted and the position is untouched.
	pos, _ := h.ledger.Get(owner)
	assert.Equal(t, uint64(2_000_000_000), pos.CollateralBalance)
	assert.Equal(t, uint64(90_000_000_000), pos.DebtBalance)
	assert.Equal(t, uint64(45_000_000_000), h.tokens.issued[liquidator])
}

func TestLiquidateUnknownPosition(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.Liquidate(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 1)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestHealthFactorRead(t *testing.T) {
	h := newTestHarness(t)
	owner := solana.NewWallet().PublicKey()

	_, err := h.engine.HealthFactor(context.Background(), owner)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)

	_, err = h.engine.DepositAndMint(context.Background(), owner, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	hf, err := h.engine.HealthFactor(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hf)

	h.source.price = 40_0000_0000
	hf, err = h.engine.HealthFactor(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hf)
}

func TestPositionHealthsSharesOneReading(t *testing.T) {
	h := newTestHarness(t)
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	_, err := h.engine.DepositAndMint(context.Background(), a, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)
	_, err = h.engine.DepositAndMint(context.Background(), b, 2_000_000_000, 30_000_000_000)
	require.NoError(t, err)

	h.source.price = 40_0000_0000
	healths, price, err := h.engine.PositionHealths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40_0000_0000), price)
	require.Len(t, healths, 2)

	// All entries are valued at the same $40 reading: 40 USD of borrowing
	// power against each position's debt.
	byOwner := make(map[solana.PublicKey]uint64, len(healths))
	for _, ph := range healths {
		assert.Empty(t, ph.HealthError)
		byOwner[ph.Owner] = ph.HealthFactor
	}
	assert.Equal(t, uint64(0), byOwner[a])
	assert.Equal(t, uint64(1), byOwner[b])
}

func TestUpdateMinHealthFactor(t *testing.T) {
	h := newTestHarness(t)

	err := h.engine.UpdateMinHealthFactor(solana.NewWallet().PublicKey(), 2)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, uint64(1), h.engine.ProtocolConfig().MinHealthFactor)

	require.NoError(t, h.engine.UpdateMinHealthFactor(h.authority, 2))
	assert.Equal(t, uint64(2), h.engine.ProtocolConfig().MinHealthFactor)

	// Zero violates the configuration invariants.
	err = h.engine.UpdateMinHealthFactor(h.authority, 0)
	assert.Error(t, err)
	assert.Equal(t, uint64(2), h.engine.ProtocolConfig().MinHealthFactor)
}

func TestRunScan(t *testing.T) {
	h := newTestHarness(t)
	healthy := solana.NewWallet().PublicKey()
	unhealthy := solana.NewWallet().PublicKey()

	// At $40 the first position keeps exactly 40 USD of borrowing power
	// against 30 USD of debt; the second goes underwater.
	_, err := h.engine.DepositAndMint(context.Background(), healthy, 2_000_000_000, 30_000_000_000)
	require.NoError(t, err)
	_, err = h.engine.DepositAndMint(context.Background(), unhealthy, 2_000_000_000, 90_000_000_000)
	require.NoError(t, err)

	snapshot, err := h.engine.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.PositionCount)
	assert.Zero(t, snapshot.UnhealthyCount)

	h.source.price = 40_0000_0000
	snapshot, err = h.engine.RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.PositionCount)
	assert.Equal(t, 1, snapshot.UnhealthyCount)
	assert.Equal(t, []string{unhealthy.String()}, snapshot.UnhealthyOwners)
	assert.Equal(t, uint64(4_000_000_000), snapshot.TotalCollateral)
	assert.Equal(t, uint64(120_000_000_000), snapshot.TotalDebt)
	assert.Equal(t, int64(40_0000_0000), snapshot.Price)
}
