package matrix

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) loadParticipant(addr common.Address) (*Participant, bool, error) {
	var p Participant
	ok, err := e.state.KVGet(participantKey(addr), &p)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &p, true, nil
}

func (e *Engine) storeParticipant(p *Participant) error {
	return e.state.KVPut(participantKey(p.Address), p)
}

func (e *Engine) loadNode(owner common.Address, level uint8) (*Node, error) {
	var node Node
	ok, err := e.state.KVGet(nodeKey(owner, level), &node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Node{Owner: owner, Level: level, Slots: []common.Address{}}, nil
	}
	if node.Slots == nil {
		node.Slots = []common.Address{}
	}
	return &node, nil
}

func (e *Engine) storeNode(node *Node) error {
	return e.state.KVPut(nodeKey(node.Owner, node.Level), node)
}

func (e *Engine) loadSequence() (uint64, error) {
	var next uint64
	ok, err := e.state.KVGet(sequenceKey, &next)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialized
	}
	return next, nil
}

func (e *Engine) loadStats() (*Stats, error) {
	stats := &Stats{}
	if _, err := e.state.KVGet(statsKey, stats); err != nil {
		return nil, err
	}
	return stats.normalize(), nil
}

func (e *Engine) storeStats(stats *Stats) error {
	return e.state.KVPut(statsKey, stats.normalize())
}

// requireRoot fails until Init has persisted the root participant.
func (e *Engine) requireRoot() error {
	var root common.Address
	ok, err := e.state.KVGet(rootKey, &root)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}
	if root != e.owner {
		return fmt.Errorf("%w: state root %s", ErrOwnerMismatch, root.Hex())
	}
	return nil
}
