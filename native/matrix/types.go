package matrix

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Participant is the membership record stored for every registered address.
// The root participant has ID 1 and a zero referrer.
type Participant struct {
	Address      common.Address
	ID           uint64
	Referrer     common.Address
	PartnerCount uint64
	MaxLevel     uint8
}

// Clone returns a copy of the participant record.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Node is one participant's placement structure at one level. Slots never
// holds more entries than the level arity; a full node is reset in the same
// transition that fills it.
type Node struct {
	Owner         common.Address
	Level         uint8
	Slots         []common.Address
	ReinvestCount uint64
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Slots = append([]common.Address(nil), n.Slots...)
	return &clone
}

// Stats holds cumulative value flows through custody. Collected always equals
// PaidMembers + PaidBeneficiary + the custody balance.
type Stats struct {
	Collected       *big.Int
	PaidMembers     *big.Int
	PaidBeneficiary *big.Int
}

func (s *Stats) normalize() *Stats {
	if s.Collected == nil {
		s.Collected = big.NewInt(0)
	}
	if s.PaidMembers == nil {
		s.PaidMembers = big.NewInt(0)
	}
	if s.PaidBeneficiary == nil {
		s.PaidBeneficiary = big.NewInt(0)
	}
	return s
}

// PayoutKind labels why a recipient was paid.
type PayoutKind string

const (
	PayoutFee       PayoutKind = "fee"
	PayoutDirect    PayoutKind = "direct"
	PayoutSpillover PayoutKind = "spillover"
	PayoutRoot      PayoutKind = "root"
)

// Payout is one resolved value transfer out of custody.
type Payout struct {
	Recipient common.Address
	Level     uint8
	Amount    *big.Int
	Kind      PayoutKind
}

// Placement describes one attachment performed during a call.
type Placement struct {
	Entrant   common.Address
	Owner     common.Address
	Level     uint8
	Slot      uint8
	Reentry   bool
	Spillover bool
}

// Cycle describes one node completion. ReinvestCount is the value before the
// completion incremented it.
type Cycle struct {
	Owner         common.Address
	Level         uint8
	ReinvestCount uint64
}

// Receipt summarises a committed registration or level purchase.
type Receipt struct {
	Participant *Participant
	Level       uint8
	Paid        *big.Int
	Placements  []Placement
	Cycles      []Cycle
	Payouts     []Payout
}
