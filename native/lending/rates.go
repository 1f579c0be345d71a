package lending

import "math/big"

// RateStrategy holds the immutable parameters of a reserve's piecewise-linear
// interest rate curve. All fractional parameters are expressed in ray
// (10^27 = 100%).
type RateStrategy struct {
	// OptimalUtilization is the kink point of the curve.
	OptimalUtilization *big.Int `json:"optimalUtilization"`
	// BaseVariableBorrowRate anchors the variable curve at zero utilization.
	BaseVariableBorrowRate *big.Int `json:"baseVariableBorrowRate"`
	VariableRateSlope1     *big.Int `json:"variableRateSlope1"`
	VariableRateSlope2     *big.Int `json:"variableRateSlope2"`
	// BaseStableBorrowRate anchors the stable curve; it tracks the market
	// borrow rate rather than the variable base.
	BaseStableBorrowRate *big.Int `json:"baseStableBorrowRate"`
	StableRateSlope1     *big.Int `json:"stableRateSlope1"`
	StableRateSlope2     *big.Int `json:"stableRateSlope2"`
}

// Clone returns a deep copy of the strategy.
func (s *RateStrategy) Clone() *RateStrategy {
	if s == nil {
		return nil
	}
	return &RateStrategy{
		OptimalUtilization:     cloneBig(s.OptimalUtilization),
		BaseVariableBorrowRate: cloneBig(s.BaseVariableBorrowRate),
		VariableRateSlope1:     cloneBig(s.VariableRateSlope1),
		VariableRateSlope2:     cloneBig(s.VariableRateSlope2),
		BaseStableBorrowRate:   cloneBig(s.BaseStableBorrowRate),
		StableRateSlope1:       cloneBig(s.StableRateSlope1),
		StableRateSlope2:       cloneBig(s.StableRateSlope2),
	}
}

// InterestRates bundles the three rates produced by the curve, in ray.
type InterestRates struct {
	LiquidityRate      *big.Int
	StableBorrowRate   *big.Int
	VariableBorrowRate *big.Int
}

// Utilization computes U = totalDebt / (availableLiquidity + totalDebt) in
// ray, defined as zero when there is no debt.
func Utilization(availableLiquidity, totalDebt *big.Int) *big.Int {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	denominator := new(big.Int).Add(cloneBig(availableLiquidity), totalDebt)
	return rayDiv(totalDebt, denominator)
}

// CalculateInterestRates evaluates the curve for the supplied aggregates and
// returns the liquidity, stable borrow and variable borrow rates.
//
// Both borrow curves share the two-piece shape: linear in utilization up to
// the optimal point, then a steeper second slope on the excess utilization
// ratio. The liquidity rate is the debt-weighted overall borrow rate scaled by
// utilization, net of the reserve factor.
func (s *RateStrategy) CalculateInterestRates(availableLiquidity, totalStableDebt, totalVariableDebt, averageStableRate *big.Int, reserveFactorBps uint64) InterestRates {
	totalDebt := new(big.Int).Add(cloneBig(totalStableDebt), cloneBig(totalVariableDebt))
	utilization := Utilization(availableLiquidity, totalDebt)

	stableRate := cloneBig(s.BaseStableBorrowRate)
	variableRate := cloneBig(s.BaseVariableBorrowRate)

	optimal := cloneBig(s.OptimalUtilization)
	if utilization.Cmp(optimal) > 0 {
		excess := new(big.Int).Sub(Ray(), optimal)
		excessRatio := rayDiv(new(big.Int).Sub(utilization, optimal), excess)

		stableRate.Add(stableRate, s.StableRateSlope1)
		stableRate.Add(stableRate, rayMul(excessRatio, s.StableRateSlope2))

		variableRate.Add(variableRate, s.VariableRateSlope1)
		variableRate.Add(variableRate, rayMul(excessRatio, s.VariableRateSlope2))
	} else if optimal.Sign() > 0 {
		ratio := rayDiv(utilization, optimal)
		stableRate.Add(stableRate, rayMul(s.StableRateSlope1, ratio))
		variableRate.Add(variableRate, rayMul(s.VariableRateSlope1, ratio))
	}

	var netFactorBps uint64
	if reserveFactorBps < PercentageFactor {
		netFactorBps = PercentageFactor - reserveFactorBps
	}
	overall := overallBorrowRate(totalStableDebt, totalVariableDebt, averageStableRate, variableRate)
	liquidityRate := percentMul(rayMul(overall, utilization), netFactorBps)

	return InterestRates{
		LiquidityRate:      liquidityRate,
		StableBorrowRate:   stableRate,
		VariableBorrowRate: variableRate,
	}
}

// overallBorrowRate is the debt-weighted average of the current stable and
// variable borrow rates. Zero when there is no debt.
func overallBorrowRate(totalStableDebt, totalVariableDebt, averageStableRate, variableRate *big.Int) *big.Int {
	stable := cloneBig(totalStableDebt)
	variable := cloneBig(totalVariableDebt)
	totalDebt := new(big.Int).Add(stable, variable)
	if totalDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	weighted := new(big.Int).Mul(stable, cloneBig(averageStableRate))
	weighted.Add(weighted, new(big.Int).Mul(variable, cloneBig(variableRate)))
	return weighted.Quo(weighted, totalDebt)
}
