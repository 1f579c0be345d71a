package lending

import (
	"math/big"
	"testing"
)

func TestRayMulTruncates(t *testing.T) {
	a := mustBigInt("1000000000000000000000000001")
	b := mustBigInt("1000000000000000000000000001")
	got := rayMul(a, b)
	want := mustBigInt("1000000000000000000000000002")
	if got.Cmp(want) != 0 {
		t.Fatalf("rayMul = %s, want %s", got, want)
	}
	if rayMul(nil, a).Sign() != 0 {
		t.Fatalf("nil operand should yield zero")
	}
}

func TestRayDivTruncates(t *testing.T) {
	got := rayDiv(big.NewInt(1), big.NewInt(3))
	want := mustBigInt("333333333333333333333333333")
	if got.Cmp(want) != 0 {
		t.Fatalf("rayDiv = %s, want %s", got, want)
	}
	if rayDiv(big.NewInt(1), big.NewInt(0)).Sign() != 0 {
		t.Fatalf("division by zero should yield zero")
	}
}

func TestPercentMul(t *testing.T) {
	got := percentMul(big.NewInt(10_001), 5_000)
	if got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("percentMul = %s, want 5000", got)
	}
	if percentMul(big.NewInt(100), 0).Sign() != 0 {
		t.Fatalf("zero bps should yield zero")
	}
}

func TestLinearInterestOneYear(t *testing.T) {
	rate := mustBigInt("100000000000000000000000000") // 10%
	got := linearInterest(rate, SecondsPerYear)
	want := mustBigInt("1100000000000000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("linear factor = %s, want %s", got, want)
	}
	if linearInterest(rate, 0).Cmp(Ray()) != 0 {
		t.Fatalf("zero elapsed should be the unit factor")
	}
}

func TestCompoundedInterestExceedsLinear(t *testing.T) {
	rate := mustBigInt("100000000000000000000000000") // 10%
	compounded := compoundedInterest(rate, SecondsPerYear)
	linear := linearInterest(rate, SecondsPerYear)
	if compounded.Cmp(linear) <= 0 {
		t.Fatalf("compounded %s should exceed linear %s over a year", compounded, linear)
	}
	// e^0.1 = 1.10517...; the cubic expansion lands just below.
	upper := mustBigInt("1105171000000000000000000000")
	if compounded.Cmp(upper) >= 0 {
		t.Fatalf("compounded factor %s above expected bound", compounded)
	}
	if compoundedInterest(rate, 1).Cmp(Ray()) <= 0 {
		t.Fatalf("single second should still accrue")
	}
}

func TestScaledRoundTrip(t *testing.T) {
	index := mustBigInt("1100000000000000000000000000")
	amount := mustBigInt("1000000000000000000")
	scaled := scaledFromAmount(amount, index)
	back := amountFromScaled(scaled, index)
	if back.Cmp(amount) > 0 {
		t.Fatalf("round trip grew the amount: %s > %s", back, amount)
	}
	diff := new(big.Int).Sub(amount, back)
	if diff.Cmp(big.NewInt(2)) > 0 {
		t.Fatalf("round trip lost more than dust: %s", diff)
	}
	if scaledFromAmount(big.NewInt(1), index).Sign() == 0 {
		t.Fatalf("nonzero amount must not scale to zero")
	}
}
