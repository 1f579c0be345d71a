package lending

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"raylend/core/events"
	"raylend/observability/metrics"
)

// PoolState is the persistence boundary for reserves and user positions.
type PoolState interface {
	GetReserve(asset common.Address) (*Reserve, error)
	PutReserve(asset common.Address, reserve *Reserve) error
	GetPosition(asset, user common.Address) (*UserPosition, error)
	PutPosition(asset common.Address, position *UserPosition) error
	UserAssets(user common.Address) ([]common.Address, error)
	ReserveAssets() ([]common.Address, error)
}

// TokenLedger abstracts the fungible-token operations the pool performs on
// underlying assets. Balance accounting itself lives outside the core.
type TokenLedger interface {
	BalanceOf(asset, account common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
	Mint(asset, to common.Address, amount *big.Int) error
	Burn(asset, from common.Address, amount *big.Int) error
}

// Pool orchestrates the primary state transitions of the lending protocol:
// deposits, borrows, repayments and liquidation settlement. Every public
// operation is one serialized unit of work; the pool mutex enforces the
// single-writer discipline over reserve accumulators.
type Pool struct {
	mu      sync.Mutex
	state   PoolState
	ledger  TokenLedger
	oracle  PriceSource
	emitter events.Emitter
	metrics *metrics.LendingMetrics

	// vault is the ledger account holding the pool's underlying liquidity.
	vault common.Address
	admin common.Address

	closeFactorBps uint64
	// fullCloseThreshold is the health factor (ray) below which the close
	// factor no longer caps a liquidation.
	fullCloseThreshold *big.Int

	clock func() uint64
}

// DefaultCloseFactorBps caps a single liquidation at half the position's debt.
const DefaultCloseFactorBps = 5_000

// defaultFullCloseThreshold is 0.95 in ray.
var defaultFullCloseThreshold = mustBigInt("950000000000000000000000000")

// MaxDebtToCover is the sentinel requesting liquidation of as much debt as
// the close factor rule permits.
var MaxDebtToCover = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// NewPool constructs a pool bound to its treasury vault and admin capability.
func NewPool(vault, admin common.Address) *Pool {
	return &Pool{
		vault:              vault,
		admin:              admin,
		closeFactorBps:     DefaultCloseFactorBps,
		fullCloseThreshold: new(big.Int).Set(defaultFullCloseThreshold),
		emitter:            events.NoopEmitter{},
		clock:              func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the pool to its persistence layer.
func (p *Pool) SetState(state PoolState) { p.state = state }

// SetLedger wires the pool to the token ledger.
func (p *Pool) SetLedger(ledger TokenLedger) { p.ledger = ledger }

// SetOracle wires the price source used for valuations.
func (p *Pool) SetOracle(oracle PriceSource) { p.oracle = oracle }

// SetEmitter wires the event sink. A nil emitter silences events.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
}

// SetClock overrides the settlement timestamp source.
func (p *Pool) SetClock(clock func() uint64) {
	if clock != nil {
		p.clock = clock
	}
}

// SetMetrics wires the pool's Prometheus collectors. A nil registry is safe:
// every observation method tolerates a nil receiver.
func (p *Pool) SetMetrics(m *metrics.LendingMetrics) { p.metrics = m }

// SetCloseFactor overrides the close factor basis points.
func (p *Pool) SetCloseFactor(bps uint64) {
	if bps > 0 && bps <= PercentageFactor {
		p.closeFactorBps = bps
	}
}

// Vault returns the pool treasury account.
func (p *Pool) Vault() common.Address { return p.vault }

// ListReserve registers a new market. Privileged: only the pool admin may
// call it, and re-listing an asset is rejected.
func (p *Pool) ListReserve(caller common.Address, reserve *Reserve) error {
	if p == nil || p.state == nil {
		return ErrNilState
	}
	if caller != p.admin {
		return ErrCallerNotPoolAdmin
	}
	if reserve == nil || reserve.Strategy == nil {
		return ErrInconsistentParams
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	existing, err := p.state.GetReserve(reserve.Asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrInconsistentParams
	}
	reserve.ensureDefaults()
	if reserve.LastUpdateTimestamp == 0 {
		reserve.LastUpdateTimestamp = p.clock()
	}
	return p.state.PutReserve(reserve.Asset, reserve)
}

func (p *Pool) reserve(asset common.Address) (*Reserve, error) {
	reserve, err := p.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrReserveNotListed
	}
	reserve.ensureDefaults()
	return reserve, nil
}

func (p *Pool) position(asset, user common.Address) (*UserPosition, error) {
	position, err := p.state.GetPosition(asset, user)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &UserPosition{User: user, Asset: asset}
	}
	position.ensureDefaults()
	return position, nil
}

func (p *Pool) emitReserveUpdate(reserve *Reserve) {
	p.emitter.Emit(events.ReserveDataUpdated{
		Asset:               reserve.Asset,
		LiquidityRate:       cloneBig(reserve.CurrentLiquidityRate),
		StableBorrowRate:    cloneBig(reserve.CurrentStableBorrowRate),
		VariableBorrowRate:  cloneBig(reserve.CurrentVariableBorrowRate),
		LiquidityIndex:      cloneBig(reserve.LiquidityIndex),
		VariableBorrowIndex: cloneBig(reserve.VariableBorrowIndex),
	})
	totalDebt := new(big.Int).Add(reserve.TotalVariableDebt(), reserve.TotalStableDebt)
	p.metrics.SetReserveGauges(reserve.Asset.Hex(),
		rayToFloat(Utilization(reserve.AvailableLiquidity, totalDebt)),
		rayToFloat(reserve.CurrentLiquidityRate))
}

// outcomeLabel reduces an operation error to a bounded metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	return "error"
}

// Deposit moves underlying from the depositor into the vault and credits an
// index-scaled interest-bearing balance.
func (p *Pool) Deposit(user, asset common.Address, amount *big.Int) (err error) {
	if p == nil || p.state == nil {
		return ErrNilState
	}
	defer func() { p.metrics.ObserveOperation("deposit", outcomeLabel(err)) }()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()

	reserve, err := p.reserve(asset)
	if err != nil {
		return err
	}
	reserve.accrueIndexes(now)

	if err := p.ledger.Transfer(asset, user, p.vault, amount); err != nil {
		return err
	}

	position, err := p.position(asset, user)
	if err != nil {
		return err
	}
	hadDeposit := position.ScaledDeposit.Sign() > 0
	position.ScaledDeposit = new(big.Int).Add(position.ScaledDeposit, scaledFromAmount(amount, reserve.LiquidityIndex))
	if !hadDeposit {
		position.UseAsCollateral = true
	}

	if err := reserve.Update(amount, nil, now); err != nil {
		return err
	}
	if err := p.state.PutPosition(asset, position); err != nil {
		return err
	}
	if err := p.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	p.emitReserveUpdate(reserve)
	return nil
}

// Withdraw burns interest-bearing balance and releases underlying back to the
// user, provided the position stays healthy.
func (p *Pool) Withdraw(user, asset common.Address, amount *big.Int) (_ *big.Int, err error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	defer func() { p.metrics.ObserveOperation("withdraw", outcomeLabel(err)) }()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()

	reserve, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	reserve.accrueIndexes(now)

	position, err := p.position(asset, user)
	if err != nil {
		return nil, err
	}
	balance := position.DepositBalance(reserve.LiquidityIndex)
	withdrawn := bigMin(amount, balance)
	if withdrawn.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if reserve.AvailableLiquidity.Cmp(withdrawn) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	original := position.Clone()
	scaledBurn := bigMin(scaledFromAmount(withdrawn, reserve.LiquidityIndex), position.ScaledDeposit)
	position.ScaledDeposit = new(big.Int).Sub(position.ScaledDeposit, scaledBurn)

	if err := p.state.PutPosition(asset, position); err != nil {
		return nil, err
	}
	if position.UseAsCollateral {
		data, err := p.accountData(user, now)
		if err != nil {
			return nil, err
		}
		if data.TotalDebtValue.Sign() > 0 && data.HealthFactor.Cmp(ray) < 0 {
			if putErr := p.state.PutPosition(asset, original); putErr != nil {
				return nil, putErr
			}
			return nil, ErrHealthFactorBelowThreshold
		}
	}

	if err := p.ledger.Transfer(asset, p.vault, user, withdrawn); err != nil {
		return nil, err
	}
	if err := reserve.Update(nil, withdrawn, now); err != nil {
		return nil, err
	}
	if err := p.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	p.emitReserveUpdate(reserve)
	return withdrawn, nil
}

// Borrow draws underlying against the user's collateral at either a stable or
// variable rate.
func (p *Pool) Borrow(user, asset common.Address, amount *big.Int, mode RateMode) (err error) {
	if p == nil || p.state == nil {
		return ErrNilState
	}
	defer func() { p.metrics.ObserveOperation("borrow", outcomeLabel(err)) }()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return ErrInconsistentParams
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()

	reserve, err := p.reserve(asset)
	if err != nil {
		return err
	}
	reserve.accrueIndexes(now)
	if reserve.AvailableLiquidity.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	price, err := p.oracle.GetAssetPrice(asset)
	if err != nil {
		return err
	}
	data, err := p.accountData(user, now)
	if err != nil {
		return err
	}
	borrowValue := baseValue(amount, price, reserve.Decimals)
	projectedDebt := new(big.Int).Add(data.TotalDebtValue, borrowValue)
	borrowPower := p.borrowPower(user, now)
	if borrowPower.Cmp(projectedDebt) < 0 {
		return ErrCollateralCannotCoverNewBorrow
	}

	position, err := p.position(asset, user)
	if err != nil {
		return err
	}
	switch mode {
	case RateModeStable:
		accrued := position.StableDebt(now)
		position.StableRate = averageStableRateAfterMint(position.StableRate, accrued, reserve.CurrentStableBorrowRate, amount)
		position.PrincipalStableDebt = accrued.Add(accrued, amount)
		position.StableRateLastUpdated = now
		reserve.AverageStableRate = averageStableRateAfterMint(reserve.AverageStableRate, reserve.TotalStableDebt, reserve.CurrentStableBorrowRate, amount)
		reserve.TotalStableDebt = new(big.Int).Add(reserve.TotalStableDebt, amount)
	case RateModeVariable:
		scaled := scaledFromAmount(amount, reserve.VariableBorrowIndex)
		position.ScaledVariableDebt = new(big.Int).Add(position.ScaledVariableDebt, scaled)
		reserve.TotalScaledVariableDebt = new(big.Int).Add(reserve.TotalScaledVariableDebt, scaled)
	}

	if err := p.ledger.Transfer(asset, p.vault, user, amount); err != nil {
		return err
	}
	if err := reserve.Update(nil, amount, now); err != nil {
		return err
	}
	if err := p.state.PutPosition(asset, position); err != nil {
		return err
	}
	if err := p.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	p.emitReserveUpdate(reserve)
	return nil
}

// borrowPower sums loan-to-value adjusted collateral in base currency.
// Caller holds the pool lock.
func (p *Pool) borrowPower(user common.Address, now uint64) *big.Int {
	power := big.NewInt(0)
	assets, err := p.state.UserAssets(user)
	if err != nil {
		return power
	}
	for _, asset := range assets {
		reserve, err := p.state.GetReserve(asset)
		if err != nil || reserve == nil {
			continue
		}
		reserve.ensureDefaults()
		position, err := p.state.GetPosition(asset, user)
		if err != nil || position == nil {
			continue
		}
		position.ensureDefaults()
		if !position.UseAsCollateral || position.ScaledDeposit.Sign() == 0 {
			continue
		}
		price, err := p.oracle.GetAssetPrice(asset)
		if err != nil {
			continue
		}
		balance := position.DepositBalance(reserve.NormalizedIncome(now))
		power.Add(power, percentMul(baseValue(balance, price, reserve.Decimals), reserve.LoanToValueBps))
	}
	return power
}

// Repay retires the user's debt, variable leg first, and returns the amount
// actually applied.
func (p *Pool) Repay(user, asset common.Address, amount *big.Int) (_ *big.Int, err error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	defer func() { p.metrics.ObserveOperation("repay", outcomeLabel(err)) }()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()

	reserve, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	reserve.accrueIndexes(now)

	position, err := p.position(asset, user)
	if err != nil {
		return nil, err
	}
	totalDebt := position.TotalDebt(reserve.VariableBorrowIndex, now)
	if totalDebt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	repaid := bigMin(amount, totalDebt)

	if err := p.ledger.Transfer(asset, user, p.vault, repaid); err != nil {
		return nil, err
	}
	p.burnDebt(reserve, position, repaid, now)

	if err := reserve.Update(repaid, nil, now); err != nil {
		return nil, err
	}
	if err := p.state.PutPosition(asset, position); err != nil {
		return nil, err
	}
	if err := p.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	p.emitReserveUpdate(reserve)
	return repaid, nil
}

// burnDebt retires up to amount of the position's debt, variable leg first,
// then stable, adjusting the reserve aggregates. Caller holds the pool lock.
func (p *Pool) burnDebt(reserve *Reserve, position *UserPosition, amount *big.Int, now uint64) {
	remaining := cloneBig(amount)

	variableDebt := VariableDebt(position.ScaledVariableDebt, reserve.VariableBorrowIndex)
	if variableDebt.Sign() > 0 && remaining.Sign() > 0 {
		burned := bigMin(remaining, variableDebt)
		scaledBurn := bigMin(scaledFromAmount(burned, reserve.VariableBorrowIndex), position.ScaledVariableDebt)
		if burned.Cmp(variableDebt) == 0 {
			scaledBurn = cloneBig(position.ScaledVariableDebt)
		}
		position.ScaledVariableDebt = new(big.Int).Sub(position.ScaledVariableDebt, scaledBurn)
		reserve.TotalScaledVariableDebt = new(big.Int).Sub(reserve.TotalScaledVariableDebt, bigMin(scaledBurn, reserve.TotalScaledVariableDebt))
		remaining.Sub(remaining, burned)
	}

	if remaining.Sign() > 0 {
		stableDebt := position.StableDebt(now)
		burned := bigMin(remaining, stableDebt)
		reserve.AverageStableRate = averageStableRateAfterBurn(reserve.AverageStableRate, reserve.TotalStableDebt, position.StableRate, burned)
		reserve.TotalStableDebt = new(big.Int).Sub(reserve.TotalStableDebt, bigMin(burned, reserve.TotalStableDebt))
		stableDebt.Sub(stableDebt, burned)
		position.PrincipalStableDebt = stableDebt
		if stableDebt.Sign() == 0 {
			position.StableRate = big.NewInt(0)
		}
		position.StableRateLastUpdated = now
	}
}

// Reserves returns every listed reserve asset.
func (p *Pool) Reserves() ([]common.Address, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ReserveAssets()
}

// GetReserveData returns the read-model of a reserve with debt aggregates
// resolved at the current timestamp.
func (p *Pool) GetReserveData(asset common.Address) (*ReserveData, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	reserve.accrueIndexes(p.clock())
	return &ReserveData{
		Asset:                   reserve.Asset,
		Decimals:                reserve.Decimals,
		AvailableLiquidity:      cloneBig(reserve.AvailableLiquidity),
		TotalStableDebt:         cloneBig(reserve.TotalStableDebt),
		TotalVariableDebt:       reserve.TotalVariableDebt(),
		LiquidityRate:           cloneBig(reserve.CurrentLiquidityRate),
		VariableBorrowRate:      cloneBig(reserve.CurrentVariableBorrowRate),
		StableBorrowRate:        cloneBig(reserve.CurrentStableBorrowRate),
		AverageStableBorrowRate: cloneBig(reserve.AverageStableRate),
		LiquidityIndex:          cloneBig(reserve.LiquidityIndex),
		VariableBorrowIndex:     cloneBig(reserve.VariableBorrowIndex),
		LastUpdateTimestamp:     reserve.LastUpdateTimestamp,
	}, nil
}
