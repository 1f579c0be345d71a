package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"raylend/core/events"
)

// SettlementState tracks a liquidation call through its lifecycle. A call
// either walks the full pipeline to SettlementComplete or stops at
// SettlementRejected with the validation error attached.
type SettlementState uint8

const (
	SettlementRequested SettlementState = iota
	SettlementValidated
	SettlementCollateralSeized
	SettlementSettledWithBonus
	SettlementComplete
	SettlementRejected
)

// String renders the state for logs and event attributes.
func (s SettlementState) String() string {
	switch s {
	case SettlementRequested:
		return "requested"
	case SettlementValidated:
		return "validated"
	case SettlementCollateralSeized:
		return "collateralSeized"
	case SettlementSettledWithBonus:
		return "settledWithBonus"
	case SettlementComplete:
		return "complete"
	case SettlementRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SettlementResult is the record returned by a liquidation call.
type SettlementResult struct {
	ID               string          `json:"id"`
	State            SettlementState `json:"state"`
	CollateralAsset  common.Address  `json:"collateralAsset"`
	DebtAsset        common.Address  `json:"debtAsset"`
	User             common.Address  `json:"user"`
	DebtCovered      *big.Int        `json:"debtCovered"`
	CollateralSeized *big.Int        `json:"collateralSeized"`
	HealthFactor     *big.Int        `json:"healthFactor"`
}

// seizeAmount converts covered debt into collateral units including the
// liquidation premium. Division truncates toward zero.
func seizeAmount(debtToCover, debtPrice, collateralPrice *big.Int, debtDecimals, collateralDecimals uint8, bonusBps uint64) *big.Int {
	numerator := new(big.Int).Mul(debtToCover, debtPrice)
	numerator.Mul(numerator, pow10(collateralDecimals))
	numerator.Mul(numerator, new(big.Int).SetUint64(PercentageFactor+bonusBps))

	denominator := new(big.Int).Mul(collateralPrice, pow10(debtDecimals))
	denominator.Mul(denominator, big.NewInt(PercentageFactor))
	return numerator.Quo(numerator, denominator)
}

// debtForSeize inverts seizeAmount: the debt amount whose seize, premium
// included, equals the given collateral amount. Used when the user's
// collateral balance caps the seizure.
func debtForSeize(collateralAmount, debtPrice, collateralPrice *big.Int, debtDecimals, collateralDecimals uint8, bonusBps uint64) *big.Int {
	numerator := new(big.Int).Mul(collateralAmount, collateralPrice)
	numerator.Mul(numerator, pow10(debtDecimals))
	numerator.Mul(numerator, big.NewInt(PercentageFactor))

	denominator := new(big.Int).Mul(debtPrice, pow10(collateralDecimals))
	denominator.Mul(denominator, new(big.Int).SetUint64(PercentageFactor+bonusBps))
	return numerator.Quo(numerator, denominator)
}

func rejectedSettlement(id string, collateralAsset, debtAsset, user common.Address, hf *big.Int) *SettlementResult {
	return &SettlementResult{
		ID:              id,
		State:           SettlementRejected,
		CollateralAsset: collateralAsset,
		DebtAsset:       debtAsset,
		User:            user,
		HealthFactor:    hf,
	}
}

// LiquidationCall settles an unhealthy position: the liquidator repays up to
// debtToCover of the user's debt in the debt asset and receives discounted
// collateral in return. Passing MaxDebtToCover liquidates as much as the
// close factor permits; an explicit amount above that limit is rejected
// unless the health factor has fallen below the full-close threshold.
//
// When receiveUnderlying is true the seized collateral leaves the pool as
// underlying tokens; otherwise the liquidator inherits the user's
// interest-bearing deposit.
func (p *Pool) LiquidationCall(liquidator, collateralAsset, debtAsset, user common.Address, debtToCover *big.Int, receiveUnderlying bool) (result *SettlementResult, err error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	defer func() {
		if result != nil {
			p.metrics.ObserveLiquidation(result.State.String())
		}
	}()
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	now := p.clock()

	collateralReserve, err := p.reserve(collateralAsset)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, nil), err
	}
	debtReserve, err := p.reserve(debtAsset)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, nil), err
	}
	collateralReserve.accrueIndexes(now)
	debtReserve.accrueIndexes(now)

	data, err := p.accountData(user, now)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, nil), err
	}
	if !data.IsLiquidatable() {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrHealthFactorNotBelowThreshold
	}

	debtPosition, err := p.position(debtAsset, user)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}
	totalDebt := debtPosition.TotalDebt(debtReserve.VariableBorrowIndex, now)
	if totalDebt.Sign() == 0 {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrNoDebt
	}

	collateralPosition, err := p.position(collateralAsset, user)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}
	if !collateralPosition.UseAsCollateral || collateralPosition.ScaledDeposit.Sign() == 0 {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrNoCollateral
	}

	// Close factor gate: below the full-close threshold the whole debt is
	// fair game, otherwise a single call covers at most closeFactorBps.
	maxLiquidatable := cloneBig(totalDebt)
	if data.HealthFactor.Cmp(p.fullCloseThreshold) >= 0 {
		maxLiquidatable = percentMul(totalDebt, p.closeFactorBps)
	}
	covered := cloneBig(debtToCover)
	if covered.Cmp(MaxDebtToCover) == 0 {
		covered = cloneBig(maxLiquidatable)
	} else if covered.Cmp(maxLiquidatable) > 0 {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrLiquidationCallFailed
	}
	if covered.Sign() == 0 {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrInvalidAmount
	}

	debtPrice, err := p.oracle.GetAssetPrice(debtAsset)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}
	collateralPrice, err := p.oracle.GetAssetPrice(collateralAsset)
	if err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}

	seized := seizeAmount(covered, debtPrice, collateralPrice, debtReserve.Decimals, collateralReserve.Decimals, collateralReserve.LiquidationBonusBps)
	collateralBalance := collateralPosition.DepositBalance(collateralReserve.LiquidityIndex)
	if seized.Cmp(collateralBalance) > 0 {
		// Collateral is the binding constraint: seize it all and scale the
		// covered debt back to what that collateral pays for.
		seized = cloneBig(collateralBalance)
		covered = debtForSeize(seized, debtPrice, collateralPrice, debtReserve.Decimals, collateralReserve.Decimals, collateralReserve.LiquidationBonusBps)
	}
	// A seizure or cover that floors to zero would burn debt without moving
	// collateral, or vice versa. Reject instead of settling a no-op.
	if seized.Sign() == 0 || covered.Sign() == 0 {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrLiquidationCallFailed
	}
	if receiveUnderlying && collateralReserve.AvailableLiquidity.Cmp(seized) < 0 {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), ErrInsufficientLiquidity
	}

	// Validated. Pull the repayment first so a ledger failure leaves state
	// untouched.
	if err := p.ledger.Transfer(debtAsset, liquidator, p.vault, covered); err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}
	p.burnDebt(debtReserve, debtPosition, covered, now)

	scaledSeized := bigMin(scaledFromAmount(seized, collateralReserve.LiquidityIndex), collateralPosition.ScaledDeposit)
	if seized.Cmp(collateralBalance) == 0 {
		scaledSeized = cloneBig(collateralPosition.ScaledDeposit)
	}
	collateralPosition.ScaledDeposit = new(big.Int).Sub(collateralPosition.ScaledDeposit, scaledSeized)

	var collateralTaken *big.Int
	if receiveUnderlying {
		if err := p.ledger.Transfer(collateralAsset, p.vault, liquidator, seized); err != nil {
			return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
		}
		collateralTaken = seized
	} else {
		liquidatorPosition, err := p.position(collateralAsset, liquidator)
		if err != nil {
			return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
		}
		liquidatorPosition.ScaledDeposit = new(big.Int).Add(liquidatorPosition.ScaledDeposit, scaledSeized)
		if err := p.state.PutPosition(collateralAsset, liquidatorPosition); err != nil {
			return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
		}
	}

	if err := debtReserve.Update(covered, nil, now); err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}
	if err := collateralReserve.Update(nil, collateralTaken, now); err != nil {
		return rejectedSettlement(id, collateralAsset, debtAsset, user, data.HealthFactor), err
	}

	if err := p.state.PutPosition(debtAsset, debtPosition); err != nil {
		return nil, err
	}
	if err := p.state.PutPosition(collateralAsset, collateralPosition); err != nil {
		return nil, err
	}
	if err := p.state.PutReserve(debtAsset, debtReserve); err != nil {
		return nil, err
	}
	if err := p.state.PutReserve(collateralAsset, collateralReserve); err != nil {
		return nil, err
	}

	p.emitter.Emit(events.LiquidationCall{
		CollateralAsset:   collateralAsset,
		DebtAsset:         debtAsset,
		User:              user,
		DebtToCover:       cloneBig(covered),
		CollateralSeized:  cloneBig(seized),
		Liquidator:        liquidator,
		ReceiveUnderlying: receiveUnderlying,
	})
	p.emitReserveUpdate(debtReserve)
	p.emitReserveUpdate(collateralReserve)

	seizedValue, _ := new(big.Float).Quo(
		new(big.Float).SetInt(baseValue(seized, collateralPrice, collateralReserve.Decimals)),
		big.NewFloat(1e18)).Float64()
	p.metrics.AddSeizedValue(seizedValue)

	return &SettlementResult{
		ID:               id,
		State:            SettlementComplete,
		CollateralAsset:  collateralAsset,
		DebtAsset:        debtAsset,
		User:             user,
		DebtCovered:      covered,
		CollateralSeized: seized,
		HealthFactor:     data.HealthFactor,
	}, nil
}
