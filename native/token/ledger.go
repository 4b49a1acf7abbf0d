package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/core/events"
)

var (
	ErrNilState              = errors.New("token: state not configured")
	ErrTokenNotRegistered    = errors.New("token: not registered")
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

var allowancePrefix = []byte("token/allowance/")

type ledgerState interface {
	TokenExists(symbol string) bool
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	TokenSupply(symbol string) (*big.Int, error)
	AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error)
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// ReceiveHook runs after an address has been credited. Returning an error
// fails the transfer that triggered it.
type ReceiveHook func(from common.Address, amount *big.Int) error

// Ledger is a fungible token with ERC-20 style allowances. Balances live in
// the shared state manager so they roll back together with any module state
// mutated in the same transition.
type Ledger struct {
	st      ledgerState
	symbol  string
	emitter events.Emitter
	hooks   map[common.Address]ReceiveHook
}

// NewLedger binds a ledger to a registered token symbol.
func NewLedger(st ledgerState, symbol string) (*Ledger, error) {
	if st == nil {
		return nil, ErrNilState
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if !st.TokenExists(normalized) {
		return nil, fmt.Errorf("%w: %q", ErrTokenNotRegistered, symbol)
	}
	return &Ledger{
		st:      st,
		symbol:  normalized,
		emitter: events.NoopEmitter{},
		hooks:   make(map[common.Address]ReceiveHook),
	}, nil
}

// Symbol returns the canonical token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Emitter returns the emitter currently receiving ledger events.
func (l *Ledger) Emitter() events.Emitter { return l.emitter }

// SetReceiveHook installs a hook invoked whenever addr receives tokens. A nil
// hook removes it.
func (l *Ledger) SetReceiveHook(addr common.Address, hook ReceiveHook) {
	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr common.Address) (*big.Int, error) {
	return l.st.Balance(addr.Bytes(), l.symbol)
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	return l.st.TokenSupply(l.symbol)
}

// Mint credits freshly issued tokens to addr.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.st.SetBalance(to.Bytes(), l.symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	if _, err := l.st.AdjustTokenSupply(l.symbol, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: l.symbol, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := l.st.KVPut(allowanceKey(l.symbol, owner, spender), new(big.Int).Set(amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Approval{Asset: l.symbol, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Allowance returns the remaining amount spender may move for owner.
func (l *Ledger) Allowance(owner, spender common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := l.st.KVGet(allowanceKey(l.symbol, owner, spender), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// Transfer moves amount from one address to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

// TransferFrom moves amount out of from's balance on behalf of spender and
// consumes the matching allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	allowance, err := l.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s want %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.st.KVPut(allowanceKey(l.symbol, from, spender), new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBalance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s want %s", ErrInsufficientBalance, fromBalance, amount)
	}
	if err := l.st.SetBalance(from.Bytes(), l.symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.st.SetBalance(to.Bytes(), l.symbol, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: l.symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	if hook, ok := l.hooks[to]; ok {
		if err := hook(from, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("token: receive hook for %s: %w", to.Hex(), err)
		}
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	key := make([]byte, 0, len(allowancePrefix)+len(symbol)+1+2*common.AddressLength)
	key = append(key, allowancePrefix...)
	key = append(key, symbol...)
	key = append(key, '/')
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}
