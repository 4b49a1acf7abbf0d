package matrix

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const maxBps = 10_000

// Policy parameterises how payments are split and how far the placement
// walks are allowed to run.
type Policy struct {
	// FeeBps is the share of every external payment routed to the root
	// beneficiary, in basis points.
	FeeBps uint32
	// MaxCascadeDepth bounds the number of re-entries triggered by a single
	// payment. The re-entry after the last permitted one attaches to the root.
	MaxCascadeDepth uint32
	// MaxUplineDepth bounds the referrer walk when searching for a node.
	MaxUplineDepth uint32
}

// DefaultPolicy keeps ten percent of every payment for the beneficiary.
func DefaultPolicy() Policy {
	return Policy{FeeBps: 1_000, MaxCascadeDepth: 32, MaxUplineDepth: 256}
}

// ReferencePolicy routes the whole payment to the beneficiary so node owners
// only see their position advance. Balance expectations written against the
// reference ledger hold under this policy.
func ReferencePolicy() Policy {
	p := DefaultPolicy()
	p.FeeBps = maxBps
	return p
}

// Validate ensures the policy parameters are usable.
func (p Policy) Validate() error {
	if p.FeeBps > maxBps {
		return fmt.Errorf("%w: fee %d bps exceeds %d", ErrInvalidPolicy, p.FeeBps, maxBps)
	}
	if p.MaxUplineDepth == 0 {
		return fmt.Errorf("%w: upline depth must be positive", ErrInvalidPolicy)
	}
	return nil
}

// split divides amount into the beneficiary fee and the net amount that
// travels with the placement.
func (p Policy) split(amount *big.Int) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, fmt.Errorf("matrix: invalid amount %v", amount)
	}
	total, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, nil, ErrAmountOverflow
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(uint64(p.FeeBps)), uint256.NewInt(maxBps))
	if overflow {
		return nil, nil, ErrAmountOverflow
	}
	net := new(uint256.Int).Sub(total, fee)
	return fee.ToBig(), net.ToBig(), nil
}
