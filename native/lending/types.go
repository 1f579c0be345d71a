package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserPosition maintains one user's footprint in a single reserve: the
// interest-bearing deposit balance in index-scaled units plus the stable and
// variable debt legs. A position is zeroed, never deleted, when fully unwound.
type UserPosition struct {
	User  common.Address `json:"user"`
	Asset common.Address `json:"asset"`

	// ScaledDeposit is the interest-bearing balance divided by the liquidity
	// index at deposit time.
	ScaledDeposit   *big.Int `json:"scaledDeposit"`
	UseAsCollateral bool     `json:"useAsCollateral"`

	PrincipalStableDebt   *big.Int `json:"principalStableDebt"`
	StableRate            *big.Int `json:"stableRate"`
	StableRateLastUpdated uint64   `json:"stableRateLastUpdated"`

	ScaledVariableDebt *big.Int `json:"scaledVariableDebt"`
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ScaledDeposit = cloneBig(p.ScaledDeposit)
	clone.PrincipalStableDebt = cloneBig(p.PrincipalStableDebt)
	clone.StableRate = cloneBig(p.StableRate)
	clone.ScaledVariableDebt = cloneBig(p.ScaledVariableDebt)
	return &clone
}

func (p *UserPosition) ensureDefaults() {
	if p.ScaledDeposit == nil {
		p.ScaledDeposit = big.NewInt(0)
	}
	if p.PrincipalStableDebt == nil {
		p.PrincipalStableDebt = big.NewInt(0)
	}
	if p.StableRate == nil {
		p.StableRate = big.NewInt(0)
	}
	if p.ScaledVariableDebt == nil {
		p.ScaledVariableDebt = big.NewInt(0)
	}
}

// DepositBalance resolves the scaled deposit against a liquidity index.
func (p *UserPosition) DepositBalance(liquidityIndex *big.Int) *big.Int {
	return amountFromScaled(p.ScaledDeposit, liquidityIndex)
}

// StableDebt returns the compounded stable debt at the provided timestamp.
func (p *UserPosition) StableDebt(now uint64) *big.Int {
	return CompoundedStableBalance(p.PrincipalStableDebt, p.StableRate, p.StableRateLastUpdated, now)
}

// TotalDebt returns stable plus variable debt at the provided timestamp and
// variable borrow index.
func (p *UserPosition) TotalDebt(variableBorrowIndex *big.Int, now uint64) *big.Int {
	debt := p.StableDebt(now)
	return debt.Add(debt, VariableDebt(p.ScaledVariableDebt, variableBorrowIndex))
}

// RateMode selects the debt leg of a borrow or repay.
type RateMode uint8

const (
	// RateModeStable borrows at a rate frozen per position.
	RateModeStable RateMode = 1
	// RateModeVariable borrows against the cumulative variable index.
	RateModeVariable RateMode = 2
)

// ReserveData is the read-model of a reserve exposed to RPC and tests,
// mirroring the on-chain data helper tuple.
type ReserveData struct {
	Asset                   common.Address `json:"asset"`
	Decimals                uint8          `json:"decimals"`
	AvailableLiquidity      *big.Int       `json:"availableLiquidity"`
	TotalStableDebt         *big.Int       `json:"totalStableDebt"`
	TotalVariableDebt       *big.Int       `json:"totalVariableDebt"`
	LiquidityRate           *big.Int       `json:"liquidityRate"`
	VariableBorrowRate      *big.Int       `json:"variableBorrowRate"`
	StableBorrowRate        *big.Int       `json:"stableBorrowRate"`
	AverageStableBorrowRate *big.Int       `json:"averageStableBorrowRate"`
	LiquidityIndex          *big.Int       `json:"liquidityIndex"`
	VariableBorrowIndex     *big.Int       `json:"variableBorrowIndex"`
	LastUpdateTimestamp     uint64         `json:"lastUpdateTimestamp"`
}

// AccountData aggregates a user's collateral and debt across reserves, valued
// in the oracle's 18-decimal base currency.
type AccountData struct {
	TotalCollateralValue *big.Int `json:"totalCollateralValue"`
	TotalDebtValue       *big.Int `json:"totalDebtValue"`
	// WeightedLiquidationThresholdBps is the collateral-weighted average
	// liquidation threshold across the user's collateral reserves.
	WeightedLiquidationThresholdBps uint64 `json:"weightedLiquidationThresholdBps"`
	// HealthFactor is a ray; MaxHealthFactor when the user has no debt.
	HealthFactor *big.Int `json:"healthFactor"`
}

// IsLiquidatable reports whether the health factor has crossed below 1.0.
func (a *AccountData) IsLiquidatable() bool {
	return a != nil && a.TotalDebtValue.Sign() > 0 && a.HealthFactor.Cmp(ray) < 0
}
