package lending

import "math/big"

// SecondsPerYear is the accrual horizon used when translating annual rates
// into per-second factors.
const SecondsPerYear = 31_536_000

// PercentageFactor is the basis-point denominator (100.00%).
const PercentageFactor = 10_000

var (
	basisPoints = big.NewInt(PercentageFactor)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27, fixed-point 100%
	secondsYear = big.NewInt(SecondsPerYear)
)

// Ray returns the fixed-point unit (10^27) as a fresh big integer.
func Ray() *big.Int { return new(big.Int).Set(ray) }

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMul multiplies two ray values, truncating toward zero. Truncation keeps
// every rounding remainder with the pool.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

// rayDiv divides a by b in ray precision, truncating toward zero. A zero
// divisor yields zero.
func rayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	return numerator.Quo(numerator, b)
}

// percentMul applies a basis-point factor to an amount, truncating toward zero.
func percentMul(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, basisPoints)
}

// linearInterest returns the cumulative factor 1 + rate*dt/secondsPerYear in
// ray precision. Used for the liquidity index.
func linearInterest(rate *big.Int, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return Ray()
	}
	accrued := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	accrued.Quo(accrued, secondsYear)
	return accrued.Add(accrued, ray)
}

// compoundedInterest approximates (1 + rate/secondsPerYear)^elapsed using the
// binomial expansion up to the cubic term. The error of the approximation is
// negligible for the rates and windows the protocol operates on, and the
// expansion always undershoots, which favours the pool.
func compoundedInterest(rate *big.Int, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return Ray()
	}

	ratePerSecond := new(big.Int).Quo(rate, secondsYear)
	exp := new(big.Int).SetUint64(elapsed)

	expMinusOne := new(big.Int).Sub(exp, big.NewInt(1))
	if expMinusOne.Sign() < 0 {
		expMinusOne.SetInt64(0)
	}
	expMinusTwo := new(big.Int).Sub(exp, big.NewInt(2))
	if expMinusTwo.Sign() < 0 {
		expMinusTwo.SetInt64(0)
	}

	basePowerTwo := rayMul(ratePerSecond, ratePerSecond)
	basePowerThree := rayMul(basePowerTwo, ratePerSecond)

	firstTerm := new(big.Int).Mul(ratePerSecond, exp)

	secondTerm := new(big.Int).Mul(exp, expMinusOne)
	secondTerm.Mul(secondTerm, basePowerTwo)
	secondTerm.Quo(secondTerm, big.NewInt(2))

	thirdTerm := new(big.Int).Mul(exp, expMinusOne)
	thirdTerm.Mul(thirdTerm, expMinusTwo)
	thirdTerm.Mul(thirdTerm, basePowerThree)
	thirdTerm.Quo(thirdTerm, big.NewInt(6))

	result := Ray()
	result.Add(result, firstTerm)
	result.Add(result, secondTerm)
	return result.Add(result, thirdTerm)
}

// scaledFromAmount converts an underlying amount into index-scaled units.
func scaledFromAmount(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := rayDiv(amount, index)
	if scaled.Sign() == 0 && amount.Sign() > 0 {
		return big.NewInt(1)
	}
	return scaled
}

// amountFromScaled converts index-scaled units back into an underlying amount.
func amountFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return rayMul(scaled, index)
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// rayToFloat converts a ray value into a float64 for gauge exports. Precision
// loss is acceptable there.
func rayToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(value), new(big.Float).SetInt(ray)).Float64()
	return f
}
