package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reserve captures the aggregate accounting state of one lending market.
// Amounts are denominated in the asset's smallest unit; indexes and rates are
// rays. Both indexes are monotonically non-decreasing for the lifetime of the
// reserve.
type Reserve struct {
	Asset    common.Address `json:"asset"`
	Decimals uint8          `json:"decimals"`

	AvailableLiquidity      *big.Int `json:"availableLiquidity"`
	TotalStableDebt         *big.Int `json:"totalStableDebt"`
	AverageStableRate       *big.Int `json:"averageStableRate"`
	TotalScaledVariableDebt *big.Int `json:"totalScaledVariableDebt"`

	LiquidityIndex      *big.Int `json:"liquidityIndex"`
	VariableBorrowIndex *big.Int `json:"variableBorrowIndex"`

	CurrentLiquidityRate      *big.Int `json:"currentLiquidityRate"`
	CurrentStableBorrowRate   *big.Int `json:"currentStableBorrowRate"`
	CurrentVariableBorrowRate *big.Int `json:"currentVariableBorrowRate"`

	ReserveFactorBps        uint64 `json:"reserveFactorBps"`
	LoanToValueBps          uint64 `json:"loanToValueBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	// LiquidationBonusBps is the premium paid to liquidators on seized
	// collateral, e.g. 500 = 5%.
	LiquidationBonusBps uint64 `json:"liquidationBonusBps"`

	Strategy *RateStrategy `json:"strategy"`

	LastUpdateTimestamp uint64 `json:"lastUpdateTimestamp"`
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.AvailableLiquidity = cloneBig(r.AvailableLiquidity)
	clone.TotalStableDebt = cloneBig(r.TotalStableDebt)
	clone.AverageStableRate = cloneBig(r.AverageStableRate)
	clone.TotalScaledVariableDebt = cloneBig(r.TotalScaledVariableDebt)
	clone.LiquidityIndex = cloneBig(r.LiquidityIndex)
	clone.VariableBorrowIndex = cloneBig(r.VariableBorrowIndex)
	clone.CurrentLiquidityRate = cloneBig(r.CurrentLiquidityRate)
	clone.CurrentStableBorrowRate = cloneBig(r.CurrentStableBorrowRate)
	clone.CurrentVariableBorrowRate = cloneBig(r.CurrentVariableBorrowRate)
	clone.Strategy = r.Strategy.Clone()
	return &clone
}

func (r *Reserve) ensureDefaults() {
	if r.AvailableLiquidity == nil {
		r.AvailableLiquidity = big.NewInt(0)
	}
	if r.TotalStableDebt == nil {
		r.TotalStableDebt = big.NewInt(0)
	}
	if r.AverageStableRate == nil {
		r.AverageStableRate = big.NewInt(0)
	}
	if r.TotalScaledVariableDebt == nil {
		r.TotalScaledVariableDebt = big.NewInt(0)
	}
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = Ray()
	}
	if r.VariableBorrowIndex == nil || r.VariableBorrowIndex.Sign() == 0 {
		r.VariableBorrowIndex = Ray()
	}
	if r.CurrentLiquidityRate == nil {
		r.CurrentLiquidityRate = big.NewInt(0)
	}
	if r.CurrentStableBorrowRate == nil {
		r.CurrentStableBorrowRate = big.NewInt(0)
	}
	if r.CurrentVariableBorrowRate == nil {
		r.CurrentVariableBorrowRate = big.NewInt(0)
	}
}

// TotalVariableDebt resolves the scaled variable debt against the current
// variable borrow index.
func (r *Reserve) TotalVariableDebt() *big.Int {
	return amountFromScaled(r.TotalScaledVariableDebt, r.VariableBorrowIndex)
}

// NormalizedIncome returns the liquidity index projected to the provided
// timestamp without mutating the reserve.
func (r *Reserve) NormalizedIncome(now uint64) *big.Int {
	if now <= r.LastUpdateTimestamp {
		return cloneBig(r.LiquidityIndex)
	}
	factor := linearInterest(r.CurrentLiquidityRate, now-r.LastUpdateTimestamp)
	return rayMul(r.LiquidityIndex, factor)
}

// NormalizedVariableDebt returns the variable borrow index projected to the
// provided timestamp without mutating the reserve.
func (r *Reserve) NormalizedVariableDebt(now uint64) *big.Int {
	if now <= r.LastUpdateTimestamp {
		return cloneBig(r.VariableBorrowIndex)
	}
	factor := compoundedInterest(r.CurrentVariableBorrowRate, now-r.LastUpdateTimestamp)
	return rayMul(r.VariableBorrowIndex, factor)
}

// accrueIndexes compounds the previous rates over the elapsed time into both
// cumulative indexes. The liquidity index grows linearly, the variable borrow
// index compounds.
func (r *Reserve) accrueIndexes(now uint64) {
	r.ensureDefaults()
	if now <= r.LastUpdateTimestamp {
		return
	}
	elapsed := now - r.LastUpdateTimestamp
	if r.CurrentLiquidityRate.Sign() > 0 {
		r.LiquidityIndex = rayMul(r.LiquidityIndex, linearInterest(r.CurrentLiquidityRate, elapsed))
	}
	if r.CurrentVariableBorrowRate.Sign() > 0 && r.TotalScaledVariableDebt.Sign() > 0 {
		r.VariableBorrowIndex = rayMul(r.VariableBorrowIndex, compoundedInterest(r.CurrentVariableBorrowRate, elapsed))
	}
}

// Update accrues interest since the last update, applies the liquidity delta
// and refreshes the three rates from the curve. Callers must invoke it on
// every liquidity-affecting operation before trusting the stored rates.
func (r *Reserve) Update(liquidityAdded, liquidityTaken *big.Int, now uint64) error {
	r.accrueIndexes(now)

	liquidity := cloneBig(r.AvailableLiquidity)
	if liquidityAdded != nil {
		liquidity.Add(liquidity, liquidityAdded)
	}
	if liquidityTaken != nil {
		liquidity.Sub(liquidity, liquidityTaken)
	}
	if liquidity.Sign() < 0 {
		return ErrInsufficientLiquidity
	}
	r.AvailableLiquidity = liquidity

	rates := r.Strategy.CalculateInterestRates(
		r.AvailableLiquidity,
		r.TotalStableDebt,
		r.TotalVariableDebt(),
		r.AverageStableRate,
		r.ReserveFactorBps,
	)
	r.CurrentLiquidityRate = rates.LiquidityRate
	r.CurrentStableBorrowRate = rates.StableBorrowRate
	r.CurrentVariableBorrowRate = rates.VariableBorrowRate
	r.LastUpdateTimestamp = now
	return nil
}
