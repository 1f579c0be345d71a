package flashliq

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"raylend/core/events"
	"raylend/native/ledger"
	"raylend/native/lending"
	"raylend/native/oracle"
	"raylend/observability/metrics"
)

// MaxSlippageBps caps how far above the oracle-implied price a settlement
// swap may execute, 30%.
const MaxSlippageBps = 3_000

// StateSnapshotter lets the orchestrator unwind pool state written during a
// failed settlement.
type StateSnapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int)
}

// Orchestrator settles liquidations funded by flash loans. It borrows the
// debt asset, liquidates the target position, swaps seized collateral back
// into the debt asset when the two differ, repays principal plus premium and
// forwards any surplus to the initiator. The orchestrator account holds no
// funds between settlements.
type Orchestrator struct {
	pool     *lending.Pool
	ledger   *ledger.Ledger
	oracle   lending.PriceSource
	router   SwapRouter
	state    StateSnapshotter
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *metrics.FlashLiqMetrics
	tracer   trace.Tracer
	provider common.Address
	account  common.Address
	quote    common.Address
}

// NewOrchestrator constructs an orchestrator bound to its ledger account and
// the flash loan provider it accepts callbacks from.
func NewOrchestrator(account, provider common.Address) *Orchestrator {
	return &Orchestrator{
		account:  account,
		provider: provider,
		quote:    oracle.BaseCurrency,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("raylend/flashliq"),
	}
}

// SetPool wires the lending pool.
func (o *Orchestrator) SetPool(pool *lending.Pool) { o.pool = pool }

// SetLedger wires the token ledger.
func (o *Orchestrator) SetLedger(l *ledger.Ledger) { o.ledger = l }

// SetOracle wires the price source used for the slippage ceiling.
func (o *Orchestrator) SetOracle(oracle lending.PriceSource) { o.oracle = oracle }

// SetRouter wires the swap router.
func (o *Orchestrator) SetRouter(router SwapRouter) { o.router = router }

// SetState wires the pool state snapshotter.
func (o *Orchestrator) SetState(state StateSnapshotter) { o.state = state }

// SetEmitter wires the event sink. A nil emitter silences events.
func (o *Orchestrator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	o.emitter = emitter
}

// SetLogger overrides the orchestrator logger.
func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// SetMetrics wires the settlement collectors.
func (o *Orchestrator) SetMetrics(m *metrics.FlashLiqMetrics) { o.metrics = m }

// Address returns the orchestrator's ledger account.
func (o *Orchestrator) Address() common.Address { return o.account }

// QuoteAsset returns the reference asset all oracle valuations are quoted in.
func (o *Orchestrator) QuoteAsset() common.Address { return o.quote }

// maxCollateralForDebt converts a debt-asset amount into the most collateral
// the settlement swap may consume: the oracle-implied amount plus the
// slippage allowance.
func maxCollateralForDebt(debtAmount, debtPrice, collateralPrice *big.Int, debtDecimals, collateralDecimals uint8) *big.Int {
	implied := new(big.Int).Mul(debtAmount, debtPrice)
	implied.Mul(implied, pow10(collateralDecimals))
	implied.Quo(implied, new(big.Int).Mul(collateralPrice, pow10(debtDecimals)))

	ceiling := new(big.Int).Mul(implied, big.NewInt(lending.PercentageFactor+MaxSlippageBps))
	return ceiling.Quo(ceiling, big.NewInt(lending.PercentageFactor))
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// ExecuteOperation is the flash loan callback. Exactly one asset must be
// flashed and it must be the debt asset of the targeted position; the flashed
// amount must cover the requested debt.
func (o *Orchestrator) ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params LiquidationParams) (err error) {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "flashliq.ExecuteOperation")
	defer span.End()

	defer func() {
		outcome := "settled"
		if err != nil {
			outcome = "failed"
		}
		o.metrics.ObserveSettlement(outcome)
		o.metrics.ObserveDuration(time.Since(started).Seconds())
	}()

	if caller != o.provider {
		return lending.ErrCallerMustBeLendingPool
	}
	if len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 {
		return lending.ErrInconsistentParams
	}
	if assets[0] != params.DebtAsset {
		return lending.ErrInconsistentParams
	}
	if params.DebtToCover == nil || params.DebtToCover.Sign() <= 0 {
		return lending.ErrInvalidAmount
	}
	if params.DebtToCover.Cmp(amounts[0]) > 0 {
		return lending.ErrLiquidationCallFailed
	}
	span.SetAttributes(
		attribute.String("debt_asset", params.DebtAsset.Hex()),
		attribute.String("collateral_asset", params.CollateralAsset.Hex()),
		attribute.String("user", params.User.Hex()),
	)

	var stateSnap int
	if o.state != nil {
		stateSnap = o.state.Snapshot()
		defer func() {
			if err != nil {
				o.state.RevertToSnapshot(stateSnap)
			} else {
				o.state.DiscardSnapshot(stateSnap)
			}
		}()
	}

	result, err := o.pool.LiquidationCall(o.account, params.CollateralAsset, params.DebtAsset, params.User, params.DebtToCover, true)
	if err != nil {
		o.logger.Warn("liquidation rejected",
			"user", params.User.Hex(),
			"debtAsset", params.DebtAsset.Hex(),
			"err", err,
		)
		return err
	}

	amountOwing := new(big.Int).Add(amounts[0], premiums[0])

	if params.CollateralAsset != params.DebtAsset {
		if err := o.swapForRepayment(ctx, params, result, amountOwing); err != nil {
			return err
		}
	}

	if err := o.ledger.Transfer(params.DebtAsset, o.account, o.provider, amountOwing); err != nil {
		return err
	}

	profit, profitAsset, err := o.sweepProfit(params, initiator)
	if err != nil {
		return err
	}

	// The orchestrator account must be flat after every settlement.
	if o.ledger.BalanceOf(params.DebtAsset, o.account).Sign() != 0 ||
		o.ledger.BalanceOf(params.CollateralAsset, o.account).Sign() != 0 {
		return lending.ErrResidualBalance
	}

	o.emitter.Emit(events.FlashLiquidation{
		ID:          result.ID,
		DebtAsset:   params.DebtAsset,
		Amount:      new(big.Int).Set(amounts[0]),
		Premium:     new(big.Int).Set(premiums[0]),
		Profit:      profit,
		ProfitAsset: profitAsset,
		Initiator:   initiator,
	})
	o.metrics.AddPremium(bigFloat(premiums[0]))
	o.logger.Info("flash liquidation settled",
		"id", result.ID,
		"user", params.User.Hex(),
		"debtCovered", result.DebtCovered.String(),
		"collateralSeized", result.CollateralSeized.String(),
		"premium", premiums[0].String(),
		"profit", profit.String(),
	)
	return nil
}

// swapForRepayment sells seized collateral for exactly the debt-asset
// shortfall, bounded by the oracle-implied price plus the slippage allowance.
func (o *Orchestrator) swapForRepayment(ctx context.Context, params LiquidationParams, result *lending.SettlementResult, amountOwing *big.Int) error {
	debtBalance := o.ledger.BalanceOf(params.DebtAsset, o.account)
	needed := new(big.Int).Sub(amountOwing, debtBalance)
	if needed.Sign() <= 0 {
		return nil
	}

	debtPrice, err := o.oracle.GetAssetPrice(params.DebtAsset)
	if err != nil {
		return err
	}
	collateralPrice, err := o.oracle.GetAssetPrice(params.CollateralAsset)
	if err != nil {
		return err
	}
	debtData, err := o.pool.GetReserveData(params.DebtAsset)
	if err != nil {
		return err
	}
	collateralData, err := o.pool.GetReserveData(params.CollateralAsset)
	if err != nil {
		return err
	}

	maxIn := maxCollateralForDebt(needed, debtPrice, collateralPrice, debtData.Decimals, collateralData.Decimals)
	if maxIn.Cmp(result.CollateralSeized) > 0 {
		maxIn = new(big.Int).Set(result.CollateralSeized)
	}

	amountIn, err := o.router.SwapTokensForExactTokens(ctx, params.CollateralAsset, params.DebtAsset, needed, maxIn, o.account)
	if err != nil {
		return err
	}
	if amountIn == nil || amountIn.Cmp(maxIn) > 0 {
		return lending.ErrSlippageExceeded
	}
	implied := new(big.Int).Mul(maxIn, big.NewInt(lending.PercentageFactor))
	implied.Quo(implied, big.NewInt(lending.PercentageFactor+MaxSlippageBps))
	if implied.Sign() > 0 {
		o.metrics.ObserveSwapInputRatio(bigFloat(amountIn) / bigFloat(implied))
	}

	o.emitter.Emit(events.Swapped{
		FromAsset: params.CollateralAsset,
		ToAsset:   params.DebtAsset,
		AmountIn:  amountIn,
		AmountOut: needed,
	})
	return nil
}

// sweepProfit forwards every residual balance to the initiator and reports
// the larger leg as the settlement profit.
func (o *Orchestrator) sweepProfit(params LiquidationParams, initiator common.Address) (*big.Int, common.Address, error) {
	profit := big.NewInt(0)
	profitAsset := params.CollateralAsset

	collateralLeft := o.ledger.BalanceOf(params.CollateralAsset, o.account)
	if collateralLeft.Sign() > 0 {
		if err := o.ledger.Transfer(params.CollateralAsset, o.account, initiator, collateralLeft); err != nil {
			return nil, profitAsset, err
		}
		profit = collateralLeft
	}
	if params.DebtAsset != params.CollateralAsset {
		debtLeft := o.ledger.BalanceOf(params.DebtAsset, o.account)
		if debtLeft.Sign() > 0 {
			if err := o.ledger.Transfer(params.DebtAsset, o.account, initiator, debtLeft); err != nil {
				return nil, profitAsset, err
			}
			if debtLeft.Cmp(profit) > 0 {
				profit = debtLeft
				profitAsset = params.DebtAsset
			}
		}
	}
	return profit, profitAsset, nil
}
