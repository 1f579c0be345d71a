package flashliq

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapRouter executes asset swaps on behalf of a beneficiary account. The
// orchestrator only ever needs the exact-output form during settlement; the
// exact-input form exists for residual conversion by operator tooling.
type SwapRouter interface {
	// SwapTokensForExactTokens sells just enough assetIn from the
	// beneficiary's balance to obtain exactly amountOut of assetOut,
	// returning the amount actually sold. Implementations must not sell
	// more than amountInMax.
	SwapTokensForExactTokens(ctx context.Context, assetIn, assetOut common.Address, amountOut, amountInMax *big.Int, beneficiary common.Address) (*big.Int, error)

	// SwapExactTokensForTokens sells exactly amountIn of assetIn and returns
	// the amount of assetOut obtained, which must be at least amountOutMin.
	SwapExactTokensForTokens(ctx context.Context, assetIn, assetOut common.Address, amountIn, amountOutMin *big.Int, beneficiary common.Address) (*big.Int, error)
}
