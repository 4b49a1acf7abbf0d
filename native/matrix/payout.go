package matrix

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/core/events"
)

// call collects everything a single entry point produces before it is
// committed. Events are only forwarded once the whole call succeeds.
type call struct {
	outbox     *outbox
	events     events.Emitter
	placements []Placement
	cycles     []Cycle
	payouts    []Payout
}

func newCall(target events.Emitter) *call {
	box := &outbox{}
	return &call{outbox: box, events: box.sink(target)}
}

// outbox holds the events raised during one call, each tagged with the
// emitter it was meant for, so engine and token events keep their relative
// order and are released or dropped together.
type outbox struct {
	entries []outboxEntry
}

type outboxEntry struct {
	target events.Emitter
	evt    events.Event
}

type outboxSink struct {
	box    *outbox
	target events.Emitter
}

func (s outboxSink) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	s.box.entries = append(s.box.entries, outboxEntry{target: s.target, evt: evt})
}

func (o *outbox) sink(target events.Emitter) events.Emitter {
	return outboxSink{box: o, target: target}
}

func (o *outbox) flush() {
	entries := o.entries
	o.entries = nil
	for _, entry := range entries {
		if entry.target != nil {
			entry.target.Emit(entry.evt)
		}
	}
}

func (o *outbox) reset() { o.entries = nil }

func (c *call) route(recipient common.Address, level uint8, amount *big.Int, kind PayoutKind) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	c.payouts = append(c.payouts, Payout{
		Recipient: recipient,
		Level:     level,
		Amount:    new(big.Int).Set(amount),
		Kind:      kind,
	})
}

func (e *Engine) attachmentKind(owner common.Address, spillover bool) PayoutKind {
	switch {
	case owner == e.owner:
		return PayoutRoot
	case spillover:
		return PayoutSpillover
	default:
		return PayoutDirect
	}
}

// complete resets a full node and decides what happens to the net amount.
// The root absorbs it; any other owner re-enters at the same level, which
// the caller signals by the returned flag.
func (e *Engine) complete(c *call, node *Node, net *big.Int) (bool, error) {
	cycle := Cycle{Owner: node.Owner, Level: node.Level, ReinvestCount: node.ReinvestCount}
	c.cycles = append(c.cycles, cycle)
	c.events.Emit(events.MatrixCycle{Owner: cycle.Owner, Level: cycle.Level, ReinvestCount: cycle.ReinvestCount})

	node.Slots = node.Slots[:0]
	node.ReinvestCount++
	if err := e.storeNode(node); err != nil {
		return false, err
	}
	if node.Owner == e.owner {
		c.route(e.owner, node.Level, net, PayoutRoot)
		return false, nil
	}
	return true, nil
}

// pull moves price from payer into custody. The custody account is the
// spender, so the payer must have approved it beforehand.
func (e *Engine) pull(payer common.Address, price *big.Int) error {
	if err := e.token.TransferFrom(e.custody, payer, e.custody, price); err != nil {
		return fmt.Errorf("matrix: collect payment: %w", err)
	}
	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.Collected.Add(stats.Collected, price)
	return e.storeStats(stats)
}

// push settles every routed payout out of custody. It runs after all matrix
// state has been written.
func (e *Engine) push(c *call) error {
	if len(c.payouts) == 0 {
		return nil
	}
	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	for _, payout := range c.payouts {
		if payout.Recipient == e.owner {
			stats.PaidBeneficiary.Add(stats.PaidBeneficiary, payout.Amount)
		} else {
			stats.PaidMembers.Add(stats.PaidMembers, payout.Amount)
		}
	}
	if err := e.storeStats(stats); err != nil {
		return err
	}
	for _, payout := range c.payouts {
		if err := e.token.Transfer(e.custody, payout.Recipient, payout.Amount); err != nil {
			return fmt.Errorf("matrix: pay %s: %w", payout.Recipient.Hex(), err)
		}
		c.events.Emit(events.MatrixPayout{
			Recipient: payout.Recipient,
			Level:     payout.Level,
			Amount:    new(big.Int).Set(payout.Amount),
			Kind:      string(payout.Kind),
		})
	}
	return nil
}
