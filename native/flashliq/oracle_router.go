package flashliq

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"raylend/native/ledger"
	"raylend/native/lending"
)

// ModuleAddress is the ledger account the orchestrator operates from.
var ModuleAddress = common.BytesToAddress([]byte("raylend/flashliq/orchestrator"))

// ReserveReader resolves reserve metadata for price conversions.
type ReserveReader interface {
	GetReserveData(asset common.Address) (*lending.ReserveData, error)
}

// OracleRouter is a swap venue that fills orders at the oracle price plus a
// fixed spread, settling directly on the ledger. It stands in for an external
// exchange in deployments without one.
type OracleRouter struct {
	ledger    *ledger.Ledger
	oracle    lending.PriceSource
	reserves  ReserveReader
	spreadBps uint64
}

// NewOracleRouter constructs a router charging the given spread in basis
// points on every fill.
func NewOracleRouter(l *ledger.Ledger, oracle lending.PriceSource, reserves ReserveReader, spreadBps uint64) *OracleRouter {
	if spreadBps >= lending.PercentageFactor {
		spreadBps = lending.PercentageFactor - 1
	}
	return &OracleRouter{ledger: l, oracle: oracle, reserves: reserves, spreadBps: spreadBps}
}

func (r *OracleRouter) quote(assetIn, assetOut common.Address) (priceIn, priceOut *big.Int, decIn, decOut uint8, err error) {
	priceIn, err = r.oracle.GetAssetPrice(assetIn)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	priceOut, err = r.oracle.GetAssetPrice(assetOut)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	dataIn, err := r.reserves.GetReserveData(assetIn)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	dataOut, err := r.reserves.GetReserveData(assetOut)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	return priceIn, priceOut, dataIn.Decimals, dataOut.Decimals, nil
}

// SwapTokensForExactTokens fills an exact-output order. The input amount is
// the oracle-implied cost plus the spread; fills above amountInMax are
// rejected before any funds move.
func (r *OracleRouter) SwapTokensForExactTokens(_ context.Context, assetIn, assetOut common.Address, amountOut, amountInMax *big.Int, beneficiary common.Address) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, lending.ErrInvalidAmount
	}
	priceIn, priceOut, decIn, decOut, err := r.quote(assetIn, assetOut)
	if err != nil {
		return nil, err
	}

	amountIn := new(big.Int).Mul(amountOut, priceOut)
	amountIn.Mul(amountIn, pow10(decIn))
	amountIn.Mul(amountIn, big.NewInt(int64(lending.PercentageFactor+r.spreadBps)))
	amountIn.Quo(amountIn, new(big.Int).Mul(priceIn, pow10(decOut)))
	amountIn.Quo(amountIn, big.NewInt(lending.PercentageFactor))

	if amountInMax != nil && amountIn.Cmp(amountInMax) > 0 {
		return nil, lending.ErrSlippageExceeded
	}
	if err := r.ledger.Burn(assetIn, beneficiary, amountIn); err != nil {
		return nil, err
	}
	if err := r.ledger.Mint(assetOut, beneficiary, amountOut); err != nil {
		return nil, err
	}
	return amountIn, nil
}

// SwapExactTokensForTokens fills an exact-input order. The output amount is
// the oracle-implied value minus the spread; fills below amountOutMin are
// rejected before any funds move.
func (r *OracleRouter) SwapExactTokensForTokens(_ context.Context, assetIn, assetOut common.Address, amountIn, amountOutMin *big.Int, beneficiary common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, lending.ErrInvalidAmount
	}
	priceIn, priceOut, decIn, decOut, err := r.quote(assetIn, assetOut)
	if err != nil {
		return nil, err
	}

	amountOut := new(big.Int).Mul(amountIn, priceIn)
	amountOut.Mul(amountOut, pow10(decOut))
	amountOut.Mul(amountOut, big.NewInt(int64(lending.PercentageFactor-r.spreadBps)))
	amountOut.Quo(amountOut, new(big.Int).Mul(priceOut, pow10(decIn)))
	amountOut.Quo(amountOut, big.NewInt(lending.PercentageFactor))

	if amountOutMin != nil && amountOut.Cmp(amountOutMin) < 0 {
		return nil, lending.ErrSlippageExceeded
	}
	if err := r.ledger.Burn(assetIn, beneficiary, amountIn); err != nil {
		return nil, err
	}
	if err := r.ledger.Mint(assetOut, beneficiary, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}
