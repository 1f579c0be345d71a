package lending

import "math/big"

// CompoundedStableBalance returns the stable debt principal grown by
// per-second compounding of the position's snapshot rate since its last
// update.
func CompoundedStableBalance(principal, stableRate *big.Int, lastUpdated, now uint64) *big.Int {
	if principal == nil || principal.Sign() == 0 {
		return big.NewInt(0)
	}
	if now <= lastUpdated {
		return cloneBig(principal)
	}
	factor := compoundedInterest(stableRate, now-lastUpdated)
	return rayMul(principal, factor)
}

// VariableDebt resolves an index-scaled variable debt into its current
// underlying amount.
func VariableDebt(scaledDebt, variableBorrowIndex *big.Int) *big.Int {
	return amountFromScaled(scaledDebt, variableBorrowIndex)
}

// averageStableRateAfterMint folds newly minted stable debt into the running
// debt-weighted average rate.
func averageStableRateAfterMint(currentAverage, totalStableDebt, mintRate, mintAmount *big.Int) *big.Int {
	total := cloneBig(totalStableDebt)
	amount := cloneBig(mintAmount)
	if amount.Sign() <= 0 {
		return cloneBig(currentAverage)
	}
	weighted := new(big.Int).Mul(total, cloneBig(currentAverage))
	weighted.Add(weighted, new(big.Int).Mul(amount, cloneBig(mintRate)))
	denominator := new(big.Int).Add(total, amount)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return weighted.Quo(weighted, denominator)
}

// averageStableRateAfterBurn removes burned stable debt, valued at the
// position's snapshot rate, from the running average. Burning the last unit of
// debt resets the average to zero; rounding drift is clamped at zero.
func averageStableRateAfterBurn(currentAverage, totalStableDebt, burnRate, burnAmount *big.Int) *big.Int {
	total := cloneBig(totalStableDebt)
	amount := cloneBig(burnAmount)
	remaining := new(big.Int).Sub(total, amount)
	if remaining.Sign() <= 0 {
		return big.NewInt(0)
	}
	weighted := new(big.Int).Mul(total, cloneBig(currentAverage))
	weighted.Sub(weighted, new(big.Int).Mul(amount, cloneBig(burnRate)))
	if weighted.Sign() < 0 {
		return big.NewInt(0)
	}
	return weighted.Quo(weighted, remaining)
}
