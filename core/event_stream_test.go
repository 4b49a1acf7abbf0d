package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evergreen/core/events"
)

func TestSubscribeEventsReplaysAndStreams(t *testing.T) {
	node := newTestNode(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, stop, backlog, err := node.SubscribeEvents(ctx, "")
	require.NoError(t, err)
	defer stop()
	require.Len(t, backlog, 2)
	require.Equal(t, events.TypeTransfer, backlog[0].Type)
	require.Equal(t, "1", backlog[0].Cursor)

	_, _, tail, err := node.SubscribeEvents(ctx, "1")
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, uint64(2), tail[0].Sequence)

	require.NoError(t, node.Approve(ctx, aliceAddr, 0, custodyAddr, million(2)))
	select {
	case update := <-updates:
		require.Equal(t, events.TypeApproval, update.Type)
		require.Equal(t, uint64(3), update.Sequence)
		require.NotEmpty(t, update.Attributes)
	case <-time.After(time.Second):
		t.Fatalf("expected approval event")
	}
}

func TestSubscribeEventsSkipsRejectedCalls(t *testing.T) {
	node := newTestNode(t, nil)
	updates, stop, _, err := node.SubscribeEvents(context.Background(), "")
	require.NoError(t, err)

	_, err = node.Register(context.Background(), aliceAddr, 0, ownerAddr, million(2))
	require.Error(t, err)
	select {
	case update := <-updates:
		t.Fatalf("unexpected event %s", update.Type)
	default:
	}

	stop()
	_, open := <-updates
	require.False(t, open)
}

func TestSubscribeEventsRejectsBadCursor(t *testing.T) {
	node := newTestNode(t, nil)
	_, _, _, err := node.SubscribeEvents(context.Background(), "abc")
	require.Error(t, err)
}

func TestPublishWhileSubscribersCancel(t *testing.T) {
	node := newTestNode(t, nil)
	const subscribers = 200
	stops := make([]func(), 0, subscribers)
	for i := 0; i < subscribers; i++ {
		_, stop, _, err := node.SubscribeEvents(context.Background(), "")
		require.NoError(t, err)
		stops = append(stops, stop)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscribers; i++ {
			node.publishEvent(events.Approval{Asset: "USDT", Owner: aliceAddr, Spender: custodyAddr, Amount: million(1)})
		}
	}()
	for _, stop := range stops {
		stop()
	}
	<-done

	node.streamMu.Lock()
	remaining := len(node.streamSubs)
	node.streamMu.Unlock()
	require.Zero(t, remaining)
}
