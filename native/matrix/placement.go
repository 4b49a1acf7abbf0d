package matrix

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/core/events"
)

// place splits payment, attaches entrant at level and runs the completion
// cascade until an attachment leaves its node open or the root absorbs it.
func (e *Engine) place(c *call, entrant common.Address, level uint8, payment *big.Int) error {
	arity, err := e.catalog.ArityOf(level)
	if err != nil {
		return err
	}
	fee, net, err := e.policy.split(payment)
	if err != nil {
		return err
	}
	c.route(e.owner, level, fee, PayoutFee)

	pending := entrant
	reentry := false
	for depth := uint32(0); ; depth++ {
		if depth > e.policy.MaxCascadeDepth+1 {
			return ErrCascadeDepthExceeded
		}
		var owner, direct common.Address
		if depth > e.policy.MaxCascadeDepth {
			owner = e.owner
			direct, err = e.referrerOf(pending)
		} else {
			owner, direct, err = e.findUpline(pending, level, arity)
		}
		if err != nil {
			return err
		}
		node, err := e.loadNode(owner, level)
		if err != nil {
			return err
		}
		if len(node.Slots) >= int(arity) {
			return fmt.Errorf("%w: %s at level %d", ErrNodeOverCapacity, owner.Hex(), level)
		}
		slot := uint8(len(node.Slots))
		node.Slots = append(node.Slots, pending)
		if err := e.state.KVPut(uplineKey(pending, level), owner); err != nil {
			return err
		}
		placement := Placement{
			Entrant:   pending,
			Owner:     owner,
			Level:     level,
			Slot:      slot,
			Reentry:   reentry,
			Spillover: owner != direct,
		}
		c.placements = append(c.placements, placement)
		c.events.Emit(events.MatrixPlacement{
			User:      placement.Entrant,
			Owner:     placement.Owner,
			Level:     level,
			Slot:      slot,
			Reentry:   reentry,
			Spillover: placement.Spillover,
		})

		if len(node.Slots) < int(arity) {
			if err := e.storeNode(node); err != nil {
				return err
			}
			c.route(owner, level, net, e.attachmentKind(owner, placement.Spillover))
			return nil
		}

		again, err := e.complete(c, node, net)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
		pending = owner
		reentry = true
	}
}

// findUpline walks the referrer chain of member and returns the first
// ancestor owning level whose node still has a free slot, falling back to the
// root. The direct referrer is returned alongside so callers can tell
// spillover placements apart.
func (e *Engine) findUpline(member common.Address, level, arity uint8) (common.Address, common.Address, error) {
	direct, err := e.referrerOf(member)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	cursor := direct
	for hops := uint32(0); hops < e.policy.MaxUplineDepth && cursor != (common.Address{}); hops++ {
		candidate, ok, err := e.loadParticipant(cursor)
		if err != nil {
			return common.Address{}, common.Address{}, err
		}
		if !ok {
			return common.Address{}, common.Address{}, fmt.Errorf("%w: upline %s missing", ErrCorruptState, cursor.Hex())
		}
		if candidate.MaxLevel >= level {
			node, err := e.loadNode(cursor, level)
			if err != nil {
				return common.Address{}, common.Address{}, err
			}
			if len(node.Slots) < int(arity) {
				return cursor, direct, nil
			}
		}
		cursor = candidate.Referrer
	}
	return e.owner, direct, nil
}

func (e *Engine) referrerOf(member common.Address) (common.Address, error) {
	record, ok, err := e.loadParticipant(member)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: participant %s missing", ErrCorruptState, member.Hex())
	}
	return record.Referrer, nil
}
