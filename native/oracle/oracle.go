package oracle

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Source is an external price feed for a single asset.
type Source interface {
	LatestAnswer() (*big.Int, error)
}

// Error is a stable oracle error code.
type Error struct {
	Code string
}

func (e *Error) Error() string { return e.Code }

var (
	// ErrNoPrice signals that neither a source nor the fallback could price
	// the asset.
	ErrNoPrice = &Error{Code: "ORACLE_NO_PRICE"}
	// ErrCallerNotOwner guards price and source configuration.
	ErrCallerNotOwner = &Error{Code: "ORACLE_CALLER_NOT_OWNER"}
)

// BaseCurrency is the pseudo-asset identifying the oracle's USD quote
// currency. Its price is fixed at the 18-decimal unit.
var BaseCurrency = common.HexToAddress("0x10F7Fc1F91Ba351f9C629c5947AD69bD03C05b96")

var baseCurrencyUnit = big.NewInt(1e18)

// Fallback answers price queries for assets without a configured source.
type Fallback interface {
	GetAssetPrice(asset common.Address) (*big.Int, error)
}

// Oracle resolves asset prices in the 18-decimal base currency. Per-asset
// sources take precedence; a fallback oracle backstops assets without one.
// Prices set directly override both.
type Oracle struct {
	mu       sync.RWMutex
	owner    common.Address
	prices   map[common.Address]*big.Int
	sources  map[common.Address]Source
	fallback Fallback
}

// New constructs an oracle owned by the given administrator.
func New(owner common.Address) *Oracle {
	return &Oracle{
		owner:   owner,
		prices:  make(map[common.Address]*big.Int),
		sources: make(map[common.Address]Source),
	}
}

// SetAssetPrice pins a direct price for the asset. Owner only.
func (o *Oracle) SetAssetPrice(caller, asset common.Address, price *big.Int) error {
	if caller != o.owner {
		return ErrCallerNotOwner
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		delete(o.prices, asset)
		return nil
	}
	o.prices[asset] = new(big.Int).Set(price)
	return nil
}

// SetAssetSources registers feeds for a batch of assets. Owner only.
func (o *Oracle) SetAssetSources(caller common.Address, assets []common.Address, sources []Source) error {
	if caller != o.owner {
		return ErrCallerNotOwner
	}
	if len(assets) != len(sources) {
		return &Error{Code: "ORACLE_INCONSISTENT_PARAMS"}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, asset := range assets {
		if sources[i] == nil {
			delete(o.sources, asset)
			continue
		}
		o.sources[asset] = sources[i]
	}
	return nil
}

// SetFallback registers the fallback oracle. Owner only.
func (o *Oracle) SetFallback(caller common.Address, fallback Fallback) error {
	if caller != o.owner {
		return ErrCallerNotOwner
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallback = fallback
	return nil
}

// GetAssetPrice returns the asset's price, consulting direct prices, then the
// configured source, then the fallback.
func (o *Oracle) GetAssetPrice(asset common.Address) (*big.Int, error) {
	if asset == BaseCurrency {
		return new(big.Int).Set(baseCurrencyUnit), nil
	}
	o.mu.RLock()
	pinned := o.prices[asset]
	source := o.sources[asset]
	fallback := o.fallback
	o.mu.RUnlock()

	if pinned != nil {
		return new(big.Int).Set(pinned), nil
	}
	if source != nil {
		answer, err := source.LatestAnswer()
		if err == nil && answer != nil && answer.Sign() > 0 {
			return answer, nil
		}
	}
	if fallback != nil {
		return fallback.GetAssetPrice(asset)
	}
	return nil, ErrNoPrice
}

// GetAssetsPrices resolves a batch of assets in order.
func (o *Oracle) GetAssetsPrices(assets []common.Address) ([]*big.Int, error) {
	prices := make([]*big.Int, len(assets))
	for i, asset := range assets {
		price, err := o.GetAssetPrice(asset)
		if err != nil {
			return nil, err
		}
		prices[i] = price
	}
	return prices, nil
}

// GetSourceOfAsset returns the registered feed for the asset, nil if none.
func (o *Oracle) GetSourceOfAsset(asset common.Address) Source {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sources[asset]
}

// GetFallbackOracle returns the configured fallback, nil if none.
func (o *Oracle) GetFallbackOracle() Fallback {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fallback
}
