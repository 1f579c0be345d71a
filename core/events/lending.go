package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"raylend/core/types"
)

const (
	// TypeLiquidationCall is emitted when a liquidation settlement completes.
	TypeLiquidationCall = "lending.liquidationCall"
	// TypeReserveDataUpdated is emitted after every reserve rate refresh.
	TypeReserveDataUpdated = "lending.reserveDataUpdated"
	// TypeSwapped is emitted when the flash liquidation adapter swaps seized
	// collateral for the flash-loaned debt asset.
	TypeSwapped = "flashliq.swapped"
	// TypeFlashLiquidation is emitted when a flash liquidation settles fully,
	// including repayment of the flash loan and distribution of profit.
	TypeFlashLiquidation = "flashliq.settled"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// LiquidationCall mirrors the canonical liquidation event: which position was
// liquidated, how much debt was covered and how much collateral was seized.
type LiquidationCall struct {
	CollateralAsset   common.Address
	DebtAsset         common.Address
	User              common.Address
	DebtToCover       *big.Int
	CollateralSeized  *big.Int
	Liquidator        common.Address
	ReceiveUnderlying bool
}

func (LiquidationCall) EventType() string { return TypeLiquidationCall }

// Event renders the attribute map form consumed by indexers.
func (e LiquidationCall) Event() *types.Event {
	receive := "false"
	if e.ReceiveUnderlying {
		receive = "true"
	}
	return &types.Event{
		Type: TypeLiquidationCall,
		Attributes: map[string]string{
			"collateralAsset":   e.CollateralAsset.Hex(),
			"debtAsset":         e.DebtAsset.Hex(),
			"user":              e.User.Hex(),
			"debtToCover":       amountString(e.DebtToCover),
			"collateralSeized":  amountString(e.CollateralSeized),
			"liquidator":        e.Liquidator.Hex(),
			"receiveUnderlying": receive,
		},
	}
}

// ReserveDataUpdated reports the refreshed rates and indexes for a reserve.
type ReserveDataUpdated struct {
	Asset               common.Address
	LiquidityRate       *big.Int
	StableBorrowRate    *big.Int
	VariableBorrowRate  *big.Int
	LiquidityIndex      *big.Int
	VariableBorrowIndex *big.Int
}

func (ReserveDataUpdated) EventType() string { return TypeReserveDataUpdated }

// Event renders the attribute map form consumed by indexers.
func (e ReserveDataUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveDataUpdated,
		Attributes: map[string]string{
			"asset":               e.Asset.Hex(),
			"liquidityRate":       amountString(e.LiquidityRate),
			"stableBorrowRate":    amountString(e.StableBorrowRate),
			"variableBorrowRate":  amountString(e.VariableBorrowRate),
			"liquidityIndex":      amountString(e.LiquidityIndex),
			"variableBorrowIndex": amountString(e.VariableBorrowIndex),
		},
	}
}

// Swapped records a collateral-for-debt swap performed during flash
// liquidation settlement.
type Swapped struct {
	FromAsset common.Address
	ToAsset   common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

func (Swapped) EventType() string { return TypeSwapped }

// Event renders the attribute map form consumed by indexers.
func (e Swapped) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapped,
		Attributes: map[string]string{
			"fromAsset": e.FromAsset.Hex(),
			"toAsset":   e.ToAsset.Hex(),
			"amountIn":  amountString(e.AmountIn),
			"amountOut": amountString(e.AmountOut),
		},
	}
}

// FlashLiquidation summarises a completed flash-loan funded liquidation.
type FlashLiquidation struct {
	ID          string
	DebtAsset   common.Address
	Amount      *big.Int
	Premium     *big.Int
	Profit      *big.Int
	ProfitAsset common.Address
	Initiator   common.Address
}

func (FlashLiquidation) EventType() string { return TypeFlashLiquidation }

// Event renders the attribute map form consumed by indexers.
func (e FlashLiquidation) Event() *types.Event {
	return &types.Event{
		Type: TypeFlashLiquidation,
		Attributes: map[string]string{
			"id":          e.ID,
			"debtAsset":   e.DebtAsset.Hex(),
			"amount":      amountString(e.Amount),
			"premium":     amountString(e.Premium),
			"profit":      amountString(e.Profit),
			"profitAsset": e.ProfitAsset.Hex(),
			"initiator":   e.Initiator.Hex(),
		},
	}
}
