package lending

// Error is a protocol error carrying a stable machine-readable code. The code
// string is part of the external contract: callers and integration tests match
// on it, so existing codes must never change.
type Error struct {
	Code        string
	Description string
}

// Error implements the error interface. Only the code is rendered so that
// upstream callers observe a stable string.
func (e *Error) Error() string { return e.Code }

var (
	// ErrInconsistentParams signals malformed or contradictory caller input,
	// such as requesting a flash loan over multiple assets.
	ErrInconsistentParams = &Error{Code: "INCONSISTENT_PARAMS", Description: "caller supplied inconsistent parameters"}
	// ErrLiquidationCallFailed is the generic settlement failure: healthy
	// position, zero seizable collateral, close factor exceeded or a flash
	// loan too small to fund the requested cover.
	ErrLiquidationCallFailed = &Error{Code: "LP_LIQUIDATION_CALL_FAILED", Description: "liquidation call failed validation or settlement"}
	// ErrInsufficientLiquidity signals that a withdrawal or borrow would
	// drive the reserve's available liquidity negative.
	ErrInsufficientLiquidity = &Error{Code: "INSUFFICIENT_LIQUIDITY", Description: "reserve cannot satisfy the requested outflow"}
	// ErrHealthFactorBelowThreshold rejects an operation that would leave the
	// acting user's position below the liquidation threshold.
	ErrHealthFactorBelowThreshold = &Error{Code: "HEALTH_FACTOR_LOWER_THAN_LIQUIDATION_THRESHOLD", Description: "operation would leave the position unhealthy"}
	// ErrHealthFactorNotBelowThreshold rejects liquidation of a position that
	// is still healthy.
	ErrHealthFactorNotBelowThreshold = &Error{Code: "HEALTH_FACTOR_NOT_BELOW_THRESHOLD", Description: "position is healthy and cannot be liquidated"}
	// ErrCollateralCannotCoverNewBorrow rejects a borrow whose projected debt
	// exceeds the borrowing power of the user's collateral.
	ErrCollateralCannotCoverNewBorrow = &Error{Code: "COLLATERAL_CANNOT_COVER_NEW_BORROW", Description: "insufficient collateral for the requested borrow"}
	// ErrCallerMustBeLendingPool guards the flash loan callback: only the
	// registered flash loan provider may deliver funds.
	ErrCallerMustBeLendingPool = &Error{Code: "CALLER_MUST_BE_LENDING_POOL", Description: "caller is not the registered flash loan provider"}
	// ErrCallerNotPoolAdmin guards privileged reserve configuration.
	ErrCallerNotPoolAdmin = &Error{Code: "CALLER_NOT_POOL_ADMIN", Description: "caller lacks the pool admin capability"}
	// ErrSlippageExceeded aborts a settlement whose swap consumed more
	// collateral than the oracle-implied ceiling allows.
	ErrSlippageExceeded = &Error{Code: "SLIPPAGE_EXCEEDED", Description: "swap input exceeded the maximum slippage bound"}
	// ErrNoDebt distinguishes a debtless position from a merely healthy one.
	ErrNoDebt = &Error{Code: "NO_DEBT", Description: "user has no outstanding debt for the asset"}
	// ErrNoCollateral distinguishes a collateral-less position.
	ErrNoCollateral = &Error{Code: "NO_COLLATERAL", Description: "user has no collateral for the asset"}
	// ErrResidualBalance signals a violated zero-balance invariant at the end
	// of a flash liquidation. It always indicates a bug.
	ErrResidualBalance = &Error{Code: "RESIDUAL_BALANCE", Description: "settlement left residual funds on the orchestrator"}
	// ErrInvalidAmount rejects nil, zero or negative amounts.
	ErrInvalidAmount = &Error{Code: "INVALID_AMOUNT", Description: "amount must be positive"}
	// ErrReserveNotListed signals an operation against an unknown reserve.
	ErrReserveNotListed = &Error{Code: "RESERVE_NOT_LISTED", Description: "reserve not initialised for the asset"}
	// ErrNilState signals an engine used before its state was wired.
	ErrNilState = &Error{Code: "STATE_NOT_CONFIGURED", Description: "pool state not configured"}
)
