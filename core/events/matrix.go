package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/core/types"
)

const (
	TypeMatrixRegistration = "matrix.registration"
	TypeMatrixUpgrade      = "matrix.upgrade"
	TypeMatrixPlacement    = "matrix.placement"
	TypeMatrixCycle        = "matrix.cycle"
	TypeMatrixPayout       = "matrix.payout"
)

// MatrixRegistration is emitted when a participant joins under a referrer.
type MatrixRegistration struct {
	User     common.Address
	Referrer common.Address
	ID       uint64
}

func (MatrixRegistration) EventType() string { return TypeMatrixRegistration }

func (e MatrixRegistration) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixRegistration,
		Attributes: map[string]string{
			"user":     formatAddress(e.User),
			"referrer": formatAddress(e.Referrer),
			"id":       strconv.FormatUint(e.ID, 10),
		},
	}
}

// MatrixUpgrade is emitted when a participant buys the next level.
type MatrixUpgrade struct {
	User  common.Address
	Level uint8
	Price *big.Int
}

func (MatrixUpgrade) EventType() string { return TypeMatrixUpgrade }

func (e MatrixUpgrade) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixUpgrade,
		Attributes: map[string]string{
			"user":  formatAddress(e.User),
			"level": strconv.FormatUint(uint64(e.Level), 10),
			"price": formatAmount(e.Price),
		},
	}
}

// MatrixPlacement records the attachment of an entrant into a node.
type MatrixPlacement struct {
	User      common.Address
	Owner     common.Address
	Level     uint8
	Slot      uint8
	Reentry   bool
	Spillover bool
}

func (MatrixPlacement) EventType() string { return TypeMatrixPlacement }

func (e MatrixPlacement) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixPlacement,
		Attributes: map[string]string{
			"user":      formatAddress(e.User),
			"owner":     formatAddress(e.Owner),
			"level":     strconv.FormatUint(uint64(e.Level), 10),
			"slot":      strconv.FormatUint(uint64(e.Slot), 10),
			"reentry":   strconv.FormatBool(e.Reentry),
			"spillover": strconv.FormatBool(e.Spillover),
		},
	}
}

// MatrixCycle is emitted when a node fills up. ReinvestCount is the value
// before the completion increments it.
type MatrixCycle struct {
	Owner         common.Address
	Level         uint8
	ReinvestCount uint64
}

func (MatrixCycle) EventType() string { return TypeMatrixCycle }

func (e MatrixCycle) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixCycle,
		Attributes: map[string]string{
			"owner":         formatAddress(e.Owner),
			"level":         strconv.FormatUint(uint64(e.Level), 10),
			"reinvestCount": strconv.FormatUint(e.ReinvestCount, 10),
		},
	}
}

// MatrixPayout describes one value transfer pushed out of custody.
type MatrixPayout struct {
	Recipient common.Address
	Level     uint8
	Amount    *big.Int
	Kind      string
}

func (MatrixPayout) EventType() string { return TypeMatrixPayout }

func (e MatrixPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixPayout,
		Attributes: map[string]string{
			"recipient": formatAddress(e.Recipient),
			"level":     strconv.FormatUint(uint64(e.Level), 10),
			"amount":    formatAmount(e.Amount),
			"kind":      e.Kind,
		},
	}
}
