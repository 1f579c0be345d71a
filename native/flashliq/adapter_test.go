package flashliq

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"raylend/core/events"
	"raylend/native/ledger"
	"raylend/native/lending"
	"raylend/native/oracle"
	"raylend/state"
)

var (
	daiAsset  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	wethAsset = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	vaultAddr     = common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	adminAddr     = common.HexToAddress("0x0000000000000000000000000000000000000aa2")
	providerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000aa3")
	orchAddr      = common.HexToAddress("0x0000000000000000000000000000000000000aa4")
	borrowerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000bb1")
	initiatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000bb2")
)

func wei(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid amount: " + value)
	}
	return v
}

type mockRouter struct {
	ledger       *ledger.Ledger
	amountToSwap *big.Int
	err          error
	calls        int
}

// setAmountToSwap pins the input amount the router reports selling on the
// next exact-output swap.
func (m *mockRouter) setAmountToSwap(amount *big.Int) { m.amountToSwap = amount }

func (m *mockRouter) SwapTokensForExactTokens(_ context.Context, assetIn, assetOut common.Address, amountOut, _ *big.Int, beneficiary common.Address) (*big.Int, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	sold := new(big.Int).Set(m.amountToSwap)
	balance := m.ledger.BalanceOf(assetIn, beneficiary)
	if sold.Cmp(balance) > 0 {
		sold = balance
	}
	if err := m.ledger.Burn(assetIn, beneficiary, sold); err != nil {
		return nil, err
	}
	if err := m.ledger.Mint(assetOut, beneficiary, amountOut); err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.amountToSwap), nil
}

func (m *mockRouter) SwapExactTokensForTokens(_ context.Context, assetIn, assetOut common.Address, amountIn, amountOutMin *big.Int, beneficiary common.Address) (*big.Int, error) {
	if err := m.ledger.Burn(assetIn, beneficiary, amountIn); err != nil {
		return nil, err
	}
	if err := m.ledger.Mint(assetOut, beneficiary, amountOutMin); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amountOutMin), nil
}

type testFixture struct {
	pool     *lending.Pool
	store    *state.Store
	ledger   *ledger.Ledger
	oracle   *oracle.Oracle
	provider *Provider
	orch     *Orchestrator
	router   *mockRouter
	recorder *events.Recorder
	now      uint64
}

func flatStrategy() *lending.RateStrategy {
	return &lending.RateStrategy{
		OptimalUtilization:     wei("800000000000000000000000000"),
		BaseVariableBorrowRate: big.NewInt(0),
		VariableRateSlope1:     wei("40000000000000000000000000"),
		VariableRateSlope2:     wei("750000000000000000000000000"),
		BaseStableBorrowRate:   wei("39000000000000000000000000"),
		StableRateSlope1:       wei("20000000000000000000000000"),
		StableRateSlope2:       wei("750000000000000000000000000"),
	}
}

// newMismatchFixture stages an underwater borrower holding 1 WETH of
// collateral against 800 DAI of variable debt, with DAI at 1.18e-3 base.
func newMismatchFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		store:    state.NewStore(nil),
		ledger:   ledger.New(),
		oracle:   oracle.New(adminAddr),
		recorder: &events.Recorder{},
		now:      1_700_000_000,
	}

	f.oracle.SetAssetPrice(adminAddr, daiAsset, wei("1180000000000000"))
	f.oracle.SetAssetPrice(adminAddr, wethAsset, wei("1000000000000000000"))

	f.store.PutReserve(daiAsset, &lending.Reserve{
		Asset:                   daiAsset,
		Decimals:                18,
		AvailableLiquidity:      wei("200000000000000000000"),
		TotalScaledVariableDebt: wei("800000000000000000000"),
		ReserveFactorBps:        1000,
		LoanToValueBps:          7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		Strategy:                flatStrategy(),
		LastUpdateTimestamp:     f.now,
	})
	f.store.PutReserve(wethAsset, &lending.Reserve{
		Asset:                   wethAsset,
		Decimals:                18,
		AvailableLiquidity:      wei("1000000000000000000"),
		ReserveFactorBps:        1000,
		LoanToValueBps:          8000,
		LiquidationThresholdBps: 8250,
		LiquidationBonusBps:     500,
		Strategy:                flatStrategy(),
		LastUpdateTimestamp:     f.now,
	})
	f.store.PutPosition(wethAsset, &lending.UserPosition{
		User:            borrowerAddr,
		Asset:           wethAsset,
		ScaledDeposit:   wei("1000000000000000000"),
		UseAsCollateral: true,
	})
	f.store.PutPosition(daiAsset, &lending.UserPosition{
		User:               borrowerAddr,
		Asset:              daiAsset,
		ScaledVariableDebt: wei("800000000000000000000"),
	})

	f.ledger.Mint(daiAsset, vaultAddr, wei("200000000000000000000"))
	f.ledger.Mint(wethAsset, vaultAddr, wei("1000000000000000000"))
	f.ledger.Mint(daiAsset, providerAddr, wei("1000000000000000000000"))

	f.pool = lending.NewPool(vaultAddr, adminAddr)
	f.pool.SetState(f.store)
	f.pool.SetLedger(f.ledger)
	f.pool.SetOracle(f.oracle)
	f.pool.SetEmitter(f.recorder)
	f.pool.SetClock(func() uint64 { return f.now })

	f.router = &mockRouter{ledger: f.ledger}
	f.provider = NewProvider(f.ledger, providerAddr)
	f.orch = NewOrchestrator(orchAddr, providerAddr)
	f.orch.SetPool(f.pool)
	f.orch.SetLedger(f.ledger)
	f.orch.SetOracle(f.oracle)
	f.orch.SetRouter(f.router)
	f.orch.SetState(f.store)
	f.orch.SetEmitter(f.recorder)
	return f
}

func TestFlashLiquidationWithSwap(t *testing.T) {
	f := newMismatchFixture(t)
	f.router.setAmountToSwap(wei("400000000000000000"))

	params := LiquidationParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("400000000000000000000"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{daiAsset}, []*big.Int{wei("400000000000000000000")}, params)
	if err != nil {
		t.Fatalf("flash liquidation: %v", err)
	}

	// Seized 0.4956 WETH, sold 0.4 to repay 400.36 DAI, 0.0956 profit.
	if got := f.ledger.BalanceOf(wethAsset, initiatorAddr); got.Cmp(wei("95600000000000000")) != 0 {
		t.Fatalf("initiator profit = %s", got)
	}
	if got := f.ledger.BalanceOf(daiAsset, providerAddr); got.Cmp(wei("1000360000000000000000")) != 0 {
		t.Fatalf("provider balance = %s, premium not collected", got)
	}
	if f.ledger.BalanceOf(daiAsset, orchAddr).Sign() != 0 || f.ledger.BalanceOf(wethAsset, orchAddr).Sign() != 0 {
		t.Fatalf("orchestrator retained funds")
	}

	debtPosition, _ := f.store.GetPosition(daiAsset, borrowerAddr)
	if debtPosition.ScaledVariableDebt.Cmp(wei("400000000000000000000")) != 0 {
		t.Fatalf("remaining debt = %s", debtPosition.ScaledVariableDebt)
	}
	collateralPosition, _ := f.store.GetPosition(wethAsset, borrowerAddr)
	if collateralPosition.ScaledDeposit.Cmp(wei("504400000000000000")) != 0 {
		t.Fatalf("remaining collateral = %s", collateralPosition.ScaledDeposit)
	}

	swaps := f.recorder.ByType(events.TypeSwapped)
	if len(swaps) != 1 {
		t.Fatalf("swapped events = %d, want 1", len(swaps))
	}
	swap := swaps[0].(events.Swapped)
	if swap.AmountIn.Cmp(wei("400000000000000000")) != 0 || swap.AmountOut.Cmp(wei("400360000000000000000")) != 0 {
		t.Fatalf("swap event payload: %+v", swap)
	}

	settled := f.recorder.ByType(events.TypeFlashLiquidation)
	if len(settled) != 1 {
		t.Fatalf("settlement events = %d, want 1", len(settled))
	}
	settlement := settled[0].(events.FlashLiquidation)
	if settlement.Premium.Cmp(wei("360000000000000000")) != 0 {
		t.Fatalf("premium = %s", settlement.Premium)
	}
	if settlement.Profit.Cmp(wei("95600000000000000")) != 0 || settlement.ProfitAsset != wethAsset {
		t.Fatalf("profit = %s %s", settlement.Profit, settlement.ProfitAsset.Hex())
	}
	if settlement.ID == "" {
		t.Fatalf("settlement id missing")
	}
}

// newSameAssetFixture stages a borrower whose debt and collateral are both
// WETH: 1 WETH deposited, 0.9 WETH borrowed.
func newSameAssetFixture(t *testing.T) *testFixture {
	t.Helper()
	f := newMismatchFixture(t)
	f.store.PutReserve(wethAsset, &lending.Reserve{
		Asset:                   wethAsset,
		Decimals:                18,
		AvailableLiquidity:      wei("2000000000000000000"),
		TotalScaledVariableDebt: wei("900000000000000000"),
		ReserveFactorBps:        1000,
		LoanToValueBps:          8000,
		LiquidationThresholdBps: 8250,
		LiquidationBonusBps:     500,
		Strategy:                flatStrategy(),
		LastUpdateTimestamp:     f.now,
	})
	f.store.PutPosition(wethAsset, &lending.UserPosition{
		User:               borrowerAddr,
		Asset:              wethAsset,
		ScaledDeposit:      wei("1000000000000000000"),
		UseAsCollateral:    true,
		ScaledVariableDebt: wei("900000000000000000"),
	})
	// Clear the DAI debt so only the WETH position remains.
	f.store.PutPosition(daiAsset, &lending.UserPosition{
		User:               borrowerAddr,
		Asset:              daiAsset,
		ScaledVariableDebt: big.NewInt(0),
	})
	f.ledger.Mint(wethAsset, vaultAddr, wei("1000000000000000000"))
	f.ledger.Mint(wethAsset, providerAddr, wei("1000000000000000000"))
	return f
}

func TestFlashLiquidationSameAsset(t *testing.T) {
	f := newSameAssetFixture(t)

	params := LiquidationParams{
		CollateralAsset: wethAsset,
		DebtAsset:       wethAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("450000000000000000"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{wethAsset}, []*big.Int{wei("450000000000000000")}, params)
	if err != nil {
		t.Fatalf("same-asset flash liquidation: %v", err)
	}

	// Seized 0.4725, owed 0.450405, profit 0.022095. No swap involved.
	if got := f.ledger.BalanceOf(wethAsset, initiatorAddr); got.Cmp(wei("22095000000000000")) != 0 {
		t.Fatalf("initiator profit = %s", got)
	}
	if got := f.ledger.BalanceOf(wethAsset, providerAddr); got.Cmp(wei("1000405000000000000")) != 0 {
		t.Fatalf("provider balance = %s", got)
	}
	if f.router.calls != 0 {
		t.Fatalf("router invoked for same-asset settlement")
	}
	if len(f.recorder.ByType(events.TypeSwapped)) != 0 {
		t.Fatalf("unexpected swap event")
	}
	if f.ledger.BalanceOf(wethAsset, orchAddr).Sign() != 0 {
		t.Fatalf("orchestrator retained funds")
	}
}

func TestFlashLoanRejectsMultipleAssets(t *testing.T) {
	f := newMismatchFixture(t)
	f.ledger.Mint(wethAsset, providerAddr, wei("1000000000000000000"))

	params := LiquidationParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("1000000000000000000"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{daiAsset, wethAsset},
		[]*big.Int{wei("1000000000000000000"), wei("1000000000000000000")}, params)
	if !errors.Is(err, lending.ErrInconsistentParams) {
		t.Fatalf("expected INCONSISTENT_PARAMS, got %v", err)
	}
	if got := f.ledger.BalanceOf(daiAsset, providerAddr); got.Cmp(wei("1000000000000000000000")) != 0 {
		t.Fatalf("provider balance changed after rejected loan: %s", got)
	}
}

func TestFlashLoanRejectsWrongDebtAsset(t *testing.T) {
	f := newMismatchFixture(t)
	f.ledger.Mint(wethAsset, providerAddr, wei("1000000000000000000"))

	params := LiquidationParams{
		CollateralAsset: daiAsset,
		DebtAsset:       daiAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("1000000000000000000"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{wethAsset}, []*big.Int{wei("1000000000000000000")}, params)
	if !errors.Is(err, lending.ErrInconsistentParams) {
		t.Fatalf("expected INCONSISTENT_PARAMS, got %v", err)
	}
}

func TestFlashLoanRejectsCoverAboveLoan(t *testing.T) {
	f := newMismatchFixture(t)

	params := LiquidationParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("400000000000000000001"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{daiAsset}, []*big.Int{wei("400000000000000000000")}, params)
	if !errors.Is(err, lending.ErrLiquidationCallFailed) {
		t.Fatalf("expected LP_LIQUIDATION_CALL_FAILED, got %v", err)
	}
}

func TestExecuteOperationRejectsUnknownCaller(t *testing.T) {
	f := newMismatchFixture(t)
	err := f.orch.ExecuteOperation(context.Background(), initiatorAddr,
		[]common.Address{daiAsset}, []*big.Int{big.NewInt(1)}, []*big.Int{big.NewInt(0)},
		initiatorAddr, LiquidationParams{DebtAsset: daiAsset, DebtToCover: big.NewInt(1)})
	if !errors.Is(err, lending.ErrCallerMustBeLendingPool) {
		t.Fatalf("expected CALLER_MUST_BE_LENDING_POOL, got %v", err)
	}
}

func TestFlashLiquidationRevertsOnHealthyPosition(t *testing.T) {
	f := newMismatchFixture(t)
	// 1 DAI back to 1e-3 base: health factor 1.03.
	f.oracle.SetAssetPrice(adminAddr, daiAsset, wei("1000000000000000"))

	params := LiquidationParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("400000000000000000000"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{daiAsset}, []*big.Int{wei("400000000000000000000")}, params)
	if !errors.Is(err, lending.ErrHealthFactorNotBelowThreshold) {
		t.Fatalf("expected HEALTH_FACTOR_NOT_BELOW_THRESHOLD, got %v", err)
	}
	if got := f.ledger.BalanceOf(daiAsset, providerAddr); got.Cmp(wei("1000000000000000000000")) != 0 {
		t.Fatalf("provider balance changed: %s", got)
	}
	position, _ := f.store.GetPosition(daiAsset, borrowerAddr)
	if position.ScaledVariableDebt.Cmp(wei("800000000000000000000")) != 0 {
		t.Fatalf("debt changed after failed settlement: %s", position.ScaledVariableDebt)
	}
}

func TestFlashLiquidationRevertsOnSlippage(t *testing.T) {
	f := newMismatchFixture(t)
	// The router reports selling far more collateral than the oracle-implied
	// ceiling allows.
	f.router.setAmountToSwap(wei("700000000000000000"))

	params := LiquidationParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrowerAddr,
		DebtToCover:     wei("400000000000000000000"),
	}
	err := f.provider.FlashLoan(context.Background(), f.orch, initiatorAddr,
		[]common.Address{daiAsset}, []*big.Int{wei("400000000000000000000")}, params)
	if !errors.Is(err, lending.ErrSlippageExceeded) {
		t.Fatalf("expected SLIPPAGE_EXCEEDED, got %v", err)
	}

	// Every movement is unwound: ledger and pool state are pristine.
	if got := f.ledger.BalanceOf(daiAsset, providerAddr); got.Cmp(wei("1000000000000000000000")) != 0 {
		t.Fatalf("provider balance = %s", got)
	}
	if got := f.ledger.BalanceOf(wethAsset, vaultAddr); got.Cmp(wei("1000000000000000000")) != 0 {
		t.Fatalf("vault collateral = %s", got)
	}
	debtPosition, _ := f.store.GetPosition(daiAsset, borrowerAddr)
	if debtPosition.ScaledVariableDebt.Cmp(wei("800000000000000000000")) != 0 {
		t.Fatalf("debt not restored: %s", debtPosition.ScaledVariableDebt)
	}
	collateralPosition, _ := f.store.GetPosition(wethAsset, borrowerAddr)
	if collateralPosition.ScaledDeposit.Cmp(wei("1000000000000000000")) != 0 {
		t.Fatalf("collateral not restored: %s", collateralPosition.ScaledDeposit)
	}
}

type sinkReceiver struct{ addr common.Address }

func (s *sinkReceiver) Address() common.Address { return s.addr }
func (s *sinkReceiver) ExecuteOperation(context.Context, common.Address, []common.Address, []*big.Int, []*big.Int, common.Address, LiquidationParams) error {
	return nil
}

func TestFlashLoanRequiresRepayment(t *testing.T) {
	f := newMismatchFixture(t)
	sink := &sinkReceiver{addr: common.HexToAddress("0x0000000000000000000000000000000000000cc1")}

	err := f.provider.FlashLoan(context.Background(), sink, initiatorAddr,
		[]common.Address{daiAsset}, []*big.Int{wei("100000000000000000000")}, LiquidationParams{})
	if !errors.Is(err, ErrNotRepaid) {
		t.Fatalf("expected FLASH_LOAN_NOT_REPAID, got %v", err)
	}
	if got := f.ledger.BalanceOf(daiAsset, providerAddr); got.Cmp(wei("1000000000000000000000")) != 0 {
		t.Fatalf("provider balance not restored: %s", got)
	}
	if f.ledger.BalanceOf(daiAsset, sink.addr).Sign() != 0 {
		t.Fatalf("sink kept flashed funds after revert")
	}
}

func TestProtocolConstants(t *testing.T) {
	if FlashLoanPremiumBps != 9 {
		t.Fatalf("flash loan premium = %d bps, want 9", FlashLoanPremiumBps)
	}
	if MaxSlippageBps != 3_000 {
		t.Fatalf("max slippage = %d bps, want 3000", MaxSlippageBps)
	}
	orch := NewOrchestrator(ModuleAddress, providerAddr)
	if orch.QuoteAsset() != oracle.BaseCurrency {
		t.Fatalf("quote asset = %s, want %s", orch.QuoteAsset().Hex(), oracle.BaseCurrency.Hex())
	}
	if orch.QuoteAsset() != common.HexToAddress("0x10F7Fc1F91Ba351f9C629c5947AD69bD03C05b96") {
		t.Fatalf("quote asset = %s, want pinned USD reference", orch.QuoteAsset().Hex())
	}
}
