package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Error is a stable ledger error code.
type Error struct {
	Code string
}

func (e *Error) Error() string { return e.Code }

var (
	// ErrInsufficientBalance rejects transfers and burns exceeding the
	// holder's balance.
	ErrInsufficientBalance = &Error{Code: "LEDGER_INSUFFICIENT_BALANCE"}
	// ErrInsufficientAllowance rejects delegated transfers beyond the
	// approved amount.
	ErrInsufficientAllowance = &Error{Code: "LEDGER_INSUFFICIENT_ALLOWANCE"}
	// ErrInvalidAmount rejects nil or negative amounts.
	ErrInvalidAmount = &Error{Code: "LEDGER_INVALID_AMOUNT"}
	// ErrNoSnapshot signals a revert without a matching snapshot.
	ErrNoSnapshot = &Error{Code: "LEDGER_NO_SNAPSHOT"}
)

type balanceKey struct {
	asset   common.Address
	account common.Address
}

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory multi-asset fungible token ledger. It backs the pool
// vault, user wallets and the flash liquidation orchestrator, and supports
// nested snapshots so a failed settlement can unwind every movement it made.
type Ledger struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	snapshots  []*snapshot
}

type snapshot struct {
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0
}

func (l *Ledger) balance(asset, account common.Address) *big.Int {
	key := balanceKey{asset: asset, account: account}
	if l.balances[key] == nil {
		l.balances[key] = big.NewInt(0)
	}
	return l.balances[key]
}

// BalanceOf returns the account's balance of the asset.
func (l *Ledger) BalanceOf(asset, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(asset, account))
}

// Mint credits freshly issued units to the account.
func (l *Ledger) Mint(asset, to common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(asset, to).Add(l.balance(asset, to), amount)
	return nil
}

// Burn destroys units held by the account.
func (l *Ledger) Burn(asset, from common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balance(asset, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	return nil
}

// Transfer moves units between accounts.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance := l.balance(asset, from)
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromBalance.Sub(fromBalance, amount)
	l.balance(asset, to).Add(l.balance(asset, to), amount)
	return nil
}

// Approve grants the spender a delegated transfer allowance.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{asset: asset, owner: owner, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining delegated allowance.
func (l *Ledger) Allowance(asset, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance := l.allowances[allowanceKey{asset: asset, owner: owner, spender: spender}]
	if allowance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(allowance)
}

// TransferFrom moves units on behalf of the owner, consuming allowance.
func (l *Ledger) TransferFrom(asset, spender, owner, to common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{asset: asset, owner: owner, spender: spender}
	allowance := l.allowances[key]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	ownerBalance := l.balance(asset, owner)
	if ownerBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	allowance.Sub(allowance, amount)
	ownerBalance.Sub(ownerBalance, amount)
	l.balance(asset, to).Add(l.balance(asset, to), amount)
	return nil
}

// Snapshot pushes a deep copy of the ledger onto the snapshot stack and
// returns its identifier.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	copyBalances := make(map[balanceKey]*big.Int, len(l.balances))
	for key, value := range l.balances {
		copyBalances[key] = new(big.Int).Set(value)
	}
	copyAllowances := make(map[allowanceKey]*big.Int, len(l.allowances))
	for key, value := range l.allowances {
		copyAllowances[key] = new(big.Int).Set(value)
	}
	l.snapshots = append(l.snapshots, &snapshot{balances: copyBalances, allowances: copyAllowances})
	return len(l.snapshots) - 1
}

// RevertToSnapshot restores the ledger to the identified snapshot and discards
// it along with any snapshots taken after it.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		return ErrNoSnapshot
	}
	snap := l.snapshots[id]
	l.balances = snap.balances
	l.allowances = snap.allowances
	l.snapshots = l.snapshots[:id]
	return nil
}

// DiscardSnapshot drops the identified snapshot and everything above it
// without touching live state. Used on the success path.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		return
	}
	l.snapshots = l.snapshots[:id]
}
