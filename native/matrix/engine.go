package matrix

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/core/events"
	nativecommon "evergreen/native/common"
)

const moduleName = "matrix"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// Token is the value-transfer collaborator holding participant funds.
type Token interface {
	Allowance(owner, spender common.Address) (*big.Int, error)
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	Transfer(from, to common.Address, amount *big.Int) error
	BalanceOf(addr common.Address) (*big.Int, error)
}

// emittingToken is implemented by tokens whose events can be redirected.
// The engine holds them back with its own until a call commits.
type emittingToken interface {
	Emitter() events.Emitter
	SetEmitter(events.Emitter)
}

// Config wires an engine to its owner, custody account and economics.
type Config struct {
	Owner   common.Address
	Custody common.Address
	Catalog *Catalog
	Policy  Policy
}

// Engine owns the participant registry and the per-level placement nodes and
// settles every payment through the custody account.
type Engine struct {
	state   engineState
	token   Token
	owner   common.Address
	custody common.Address
	catalog *Catalog
	policy  Policy
	emitter events.Emitter
	pauses  nativecommon.PauseView
	latch   nativecommon.Latch
}

// NewEngine validates cfg and returns an engine bound to the provided state
// and token. A nil catalog selects DefaultCatalog.
func NewEngine(st engineState, token Token, cfg Config) (*Engine, error) {
	if st == nil {
		return nil, ErrNilState
	}
	if token == nil {
		return nil, ErrNilToken
	}
	if cfg.Owner == (common.Address{}) || cfg.Custody == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner and custody are required", ErrInvalidAddress)
	}
	if cfg.Owner == cfg.Custody {
		return nil, fmt.Errorf("%w: owner must differ from custody", ErrInvalidAddress)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{
		state:   st,
		token:   token,
		owner:   cfg.Owner,
		custody: cfg.Custody,
		catalog: catalog,
		policy:  cfg.Policy,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the pause view consulted before every mutating call.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) Owner() common.Address   { return e.owner }
func (e *Engine) Custody() common.Address { return e.custody }
func (e *Engine) Catalog() *Catalog       { return e.catalog }
func (e *Engine) Policy() Policy          { return e.policy }

// Init creates the root participant with ID 1 owning every level. Calling it
// again with the same owner is a no-op.
func (e *Engine) Init() error {
	var root common.Address
	ok, err := e.state.KVGet(rootKey, &root)
	if err != nil {
		return err
	}
	if ok {
		if root != e.owner {
			return fmt.Errorf("%w: state root %s", ErrOwnerMismatch, root.Hex())
		}
		return nil
	}
	record := &Participant{Address: e.owner, ID: 1, MaxLevel: e.catalog.MaxLevel()}
	if err := e.storeParticipant(record); err != nil {
		return err
	}
	if err := e.state.KVPut(idIndexKey(record.ID), record.Address); err != nil {
		return err
	}
	if err := e.state.KVPut(sequenceKey, uint64(2)); err != nil {
		return err
	}
	if err := e.storeStats(&Stats{}); err != nil {
		return err
	}
	return e.state.KVPut(rootKey, e.owner)
}

// execute runs fn as one atomic transition. Any error reverts every write
// fn made, including token movements, and drops its buffered events. Events
// the token raises during fn are buffered alongside when the token supports
// redirecting its emitter.
func (e *Engine) execute(fn func(*call) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%s: %w", moduleName, err)
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	if err := e.requireRoot(); err != nil {
		return err
	}
	snapshot := e.state.Snapshot()
	c := newCall(e.emitter)
	if tok, ok := e.token.(emittingToken); ok {
		prev := tok.Emitter()
		tok.SetEmitter(c.outbox.sink(prev))
		defer tok.SetEmitter(prev)
	}
	if err := fn(c); err != nil {
		e.state.RevertToSnapshot(snapshot)
		c.outbox.reset()
		return err
	}
	c.outbox.flush()
	return nil
}

// Register admits candidate under referrer. payment must equal the level 1
// price and the candidate must have approved custody for it.
func (e *Engine) Register(candidate, referrer common.Address, payment *big.Int) (*Receipt, error) {
	var receipt *Receipt
	err := e.execute(func(c *call) error {
		if _, ok, err := e.loadParticipant(referrer); err != nil {
			return err
		} else if !ok {
			return ErrReferrerNotFound
		}
		if _, ok, err := e.loadParticipant(candidate); err != nil {
			return err
		} else if ok {
			return ErrAlreadyRegistered
		}
		price, err := e.catalog.PriceOf(1)
		if err != nil {
			return err
		}
		if payment == nil || payment.Cmp(price) != 0 {
			return ErrRegistrationCost
		}
		if candidate == (common.Address{}) || candidate == e.custody {
			return ErrInvalidAddress
		}
		if err := e.pull(candidate, price); err != nil {
			return err
		}

		id, err := e.loadSequence()
		if err != nil {
			return err
		}
		record := &Participant{Address: candidate, ID: id, Referrer: referrer, MaxLevel: 1}
		if err := e.storeParticipant(record); err != nil {
			return err
		}
		if err := e.state.KVPut(idIndexKey(id), candidate); err != nil {
			return err
		}
		if err := e.state.KVPut(sequenceKey, id+1); err != nil {
			return err
		}
		parent, _, err := e.loadParticipant(referrer)
		if err != nil {
			return err
		}
		parent.PartnerCount++
		if err := e.storeParticipant(parent); err != nil {
			return err
		}
		if err := e.state.KVAppend(partnersKey(referrer), candidate.Bytes()); err != nil {
			return err
		}
		c.events.Emit(events.MatrixRegistration{User: candidate, Referrer: referrer, ID: id})

		if err := e.place(c, candidate, 1, price); err != nil {
			return err
		}
		if err := e.push(c); err != nil {
			return err
		}
		receipt = c.receipt(record, 1, price)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// BuyLevel purchases level for participant. Levels are bought strictly in
// order and payment must equal the catalog price.
func (e *Engine) BuyLevel(participant common.Address, level uint8, payment *big.Int) (*Receipt, error) {
	var receipt *Receipt
	err := e.execute(func(c *call) error {
		record, ok, err := e.loadParticipant(participant)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotRegistered
		}
		if int(level) != int(record.MaxLevel)+1 || level > e.catalog.MaxLevel() {
			return ErrInvalidLevel
		}
		price, err := e.catalog.PriceOf(level)
		if err != nil {
			return err
		}
		if payment == nil || payment.Cmp(price) != 0 {
			return ErrIncorrectPayment
		}
		if err := e.pull(participant, price); err != nil {
			return err
		}
		record.MaxLevel = level
		if err := e.storeParticipant(record); err != nil {
			return err
		}
		c.events.Emit(events.MatrixUpgrade{User: participant, Level: level, Price: new(big.Int).Set(price)})

		if err := e.place(c, participant, level, price); err != nil {
			return err
		}
		if err := e.push(c); err != nil {
			return err
		}
		receipt = c.receipt(record, level, price)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *call) receipt(p *Participant, level uint8, paid *big.Int) *Receipt {
	return &Receipt{
		Participant: p.Clone(),
		Level:       level,
		Paid:        new(big.Int).Set(paid),
		Placements:  append([]Placement(nil), c.placements...),
		Cycles:      append([]Cycle(nil), c.cycles...),
		Payouts:     append([]Payout(nil), c.payouts...),
	}
}

// User returns the participant stored for addr.
func (e *Engine) User(addr common.Address) (*Participant, bool, error) {
	return e.loadParticipant(addr)
}

// UserByID resolves a participant by its sequential identifier.
func (e *Engine) UserByID(id uint64) (*Participant, bool, error) {
	var addr common.Address
	ok, err := e.state.KVGet(idIndexKey(id), &addr)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.loadParticipant(addr)
}

// NextID returns the identifier the next registration will receive.
func (e *Engine) NextID() (uint64, error) {
	return e.loadSequence()
}

// Partners lists the participants directly referred by addr in registration
// order.
func (e *Engine) Partners(addr common.Address) ([]common.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(partnersKey(addr), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, entry := range raw {
		out[i] = common.BytesToAddress(entry)
	}
	return out, nil
}

// Node returns the node owned by owner at level. Unused nodes are returned
// empty.
func (e *Engine) Node(owner common.Address, level uint8) (*Node, error) {
	if _, err := e.catalog.lookup(level); err != nil {
		return nil, err
	}
	return e.loadNode(owner, level)
}

// Upline returns the owner of the node member was most recently attached to
// at level.
func (e *Engine) Upline(member common.Address, level uint8) (common.Address, bool, error) {
	var owner common.Address
	ok, err := e.state.KVGet(uplineKey(member, level), &owner)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return owner, true, nil
}

// Stats returns cumulative custody flows.
func (e *Engine) Stats() (*Stats, error) {
	return e.loadStats()
}
