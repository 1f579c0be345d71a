package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxHealthFactor is the sentinel returned for debtless positions: the
// position is by definition not liquidatable, so its health factor is treated
// as unbounded.
var MaxHealthFactor = new(big.Int).Lsh(big.NewInt(1), 255)

// PriceSource resolves asset prices in the 18-decimal base currency. The
// lending core never interprets feeds itself; prices are consumed as given.
type PriceSource interface {
	GetAssetPrice(asset common.Address) (*big.Int, error)
}

// baseValue converts an asset amount into the oracle base currency.
func baseValue(amount, price *big.Int, decimals uint8) *big.Int {
	if amount == nil || amount.Sign() == 0 || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, pow10(decimals))
}

// accountData walks the user's reserves and aggregates risk-adjusted
// collateral against total debt. Caller holds the pool lock.
func (p *Pool) accountData(user common.Address, now uint64) (*AccountData, error) {
	assets, err := p.state.UserAssets(user)
	if err != nil {
		return nil, err
	}

	totalCollateral := big.NewInt(0)
	adjustedCollateral := big.NewInt(0)
	weightedThreshold := big.NewInt(0)
	totalDebt := big.NewInt(0)

	for _, asset := range assets {
		reserve, err := p.state.GetReserve(asset)
		if err != nil {
			return nil, err
		}
		if reserve == nil {
			continue
		}
		reserve.ensureDefaults()
		position, err := p.state.GetPosition(asset, user)
		if err != nil {
			return nil, err
		}
		if position == nil {
			continue
		}
		position.ensureDefaults()

		price, err := p.oracle.GetAssetPrice(asset)
		if err != nil {
			return nil, err
		}

		if position.UseAsCollateral && position.ScaledDeposit.Sign() > 0 {
			balance := position.DepositBalance(reserve.NormalizedIncome(now))
			value := baseValue(balance, price, reserve.Decimals)
			totalCollateral.Add(totalCollateral, value)
			adjustedCollateral.Add(adjustedCollateral, percentMul(value, reserve.LiquidationThresholdBps))
			weightedThreshold.Add(weightedThreshold, new(big.Int).Mul(value, new(big.Int).SetUint64(reserve.LiquidationThresholdBps)))
		}

		debt := position.TotalDebt(reserve.NormalizedVariableDebt(now), now)
		if debt.Sign() > 0 {
			totalDebt.Add(totalDebt, baseValue(debt, price, reserve.Decimals))
		}
	}

	data := &AccountData{
		TotalCollateralValue: totalCollateral,
		TotalDebtValue:       totalDebt,
	}
	if totalCollateral.Sign() > 0 {
		weightedThreshold.Quo(weightedThreshold, totalCollateral)
		data.WeightedLiquidationThresholdBps = weightedThreshold.Uint64()
	}
	if totalDebt.Sign() == 0 {
		data.HealthFactor = new(big.Int).Set(MaxHealthFactor)
	} else {
		data.HealthFactor = rayDiv(adjustedCollateral, totalDebt)
	}
	return data, nil
}

// HealthFactor returns the user's current health factor as a ray. Debtless
// users report MaxHealthFactor; users with debt and no collateral report zero.
func (p *Pool) HealthFactor(user common.Address) (*big.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := p.accountData(user, p.clock())
	if err != nil {
		return nil, err
	}
	return data.HealthFactor, nil
}

// GetUserAccountData returns the aggregated account view used by RPC and by
// liquidation validation.
func (p *Pool) GetUserAccountData(user common.Address) (*AccountData, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountData(user, p.clock())
}
