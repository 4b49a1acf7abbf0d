package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrAlreadyApplied = errors.New("genesis: already applied")

// TokenSpec describes the settlement token registered at genesis.
type TokenSpec struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// Spec is the initial ledger state: the settlement token and its opening
// balances.
type Spec struct {
	Token TokenSpec
	Alloc map[common.Address]*big.Int
}

// Allocation is one opening balance.
type Allocation struct {
	Address common.Address
	Amount  *big.Int
}

type tokenRegistry interface {
	TokenExists(symbol string) bool
	RegisterToken(symbol, name string, decimals uint8) error
}

type minter interface {
	Mint(to common.Address, amount *big.Int) error
}

// Validate checks the token metadata and every allocation.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if strings.TrimSpace(s.Token.Symbol) == "" {
		return fmt.Errorf("genesis: token symbol required")
	}
	if s.Token.Decimals > 18 {
		return fmt.Errorf("genesis: token decimals %d exceed 18", s.Token.Decimals)
	}
	for addr, amount := range s.Alloc {
		if addr == (common.Address{}) {
			return fmt.Errorf("genesis: allocation to zero address")
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("genesis: allocation for %s must be positive", addr.Hex())
		}
	}
	return nil
}

// Allocations returns the opening balances sorted by address so genesis is
// applied in a deterministic order.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, 0, len(s.Alloc))
	for addr, amount := range s.Alloc {
		out = append(out, Allocation{Address: addr, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address.Bytes(), out[j].Address.Bytes()) < 0
	})
	return out
}

// RegisterToken registers the settlement token. It returns ErrAlreadyApplied
// when the token already exists, which callers treat as a restart.
func RegisterToken(st tokenRegistry, spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.TrimSpace(spec.Token.Symbol))
	if st.TokenExists(symbol) {
		return ErrAlreadyApplied
	}
	name := spec.Token.Name
	if strings.TrimSpace(name) == "" {
		name = symbol
	}
	return st.RegisterToken(symbol, name, spec.Token.Decimals)
}

// Mint credits every allocation in address order.
func Mint(token minter, spec *Spec) error {
	for _, alloc := range spec.Allocations() {
		if err := token.Mint(alloc.Address, alloc.Amount); err != nil {
			return fmt.Errorf("genesis: mint %s: %w", alloc.Address.Hex(), err)
		}
	}
	return nil
}
