package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"evergreen/core/events"
)

const eventHistoryLimit = 2048

// EventUpdate is one committed ledger event as delivered to stream
// subscribers. Sequence increases by one per event since the node started.
type EventUpdate struct {
	Sequence   uint64
	Cursor     string
	Type       string
	Attributes map[string]string
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if update.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// streamEmitter feeds committed events into the node's subscriber stream.
type streamEmitter struct{ node *Node }

func (s streamEmitter) Emit(evt events.Event) { s.node.publishEvent(evt) }

func (n *Node) publishEvent(evt events.Event) {
	if n == nil || evt == nil {
		return
	}
	update := EventUpdate{Type: evt.EventType()}
	if payload, ok := evt.(events.Payload); ok {
		if body := payload.Event(); body != nil {
			update.Attributes = body.Attributes
		}
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan EventUpdate)
	}
	n.streamSeq++
	update.Sequence = n.streamSeq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	n.streamHistory = append(n.streamHistory, cloneEventUpdate(update))
	if len(n.streamHistory) > eventHistoryLimit {
		excess := len(n.streamHistory) - eventHistoryLimit
		trimmed := make([]EventUpdate, eventHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	// Sends never block, so they run under streamMu and cannot race the
	// close in cancel.
	for _, ch := range n.streamSubs {
		select {
		case ch <- cloneEventUpdate(update):
		default:
		}
	}
	n.streamMu.Unlock()
}

// SubscribeEvents registers a subscriber for committed events. The backlog
// holds retained events after cursor; an empty cursor replays the whole
// retained history. Slow subscribers miss live updates rather than blocking
// the writer.
func (n *Node) SubscribeEvents(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}
	updates := make(chan EventUpdate, 32)

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan EventUpdate)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	history := make([]EventUpdate, len(n.streamHistory))
	copy(history, n.streamHistory)
	n.streamMu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			if sub, ok := n.streamSubs[id]; ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog, nil
}
