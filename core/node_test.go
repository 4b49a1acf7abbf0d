package core

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"evergreen/core/events"
	"evergreen/core/genesis"
	"evergreen/native/matrix"
	"evergreen/native/token"
	"evergreen/storage"
)

var (
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	aliceAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bobAddr     = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) { c.events = append(c.events, e) }

func (c *capturingEmitter) types() []string {
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.EventType()
	}
	return out
}

func million(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)) }

func testConfig(emitter events.Emitter) Config {
	return Config{
		Owner:   ownerAddr,
		Custody: custodyAddr,
		Policy:  matrix.DefaultPolicy(),
		Emitter: emitter,
		Genesis: &genesis.Spec{
			Token: genesis.TokenSpec{Symbol: "USDT", Name: "Tether USD", Decimals: 6},
			Alloc: map[common.Address]*big.Int{aliceAddr: million(100), bobAddr: million(100)},
		},
	}
}

func newTestNode(t *testing.T, emitter events.Emitter) *Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := NewNode(db, testConfig(emitter))
	require.NoError(t, err)
	return node
}

func TestGenesisMintsAllocations(t *testing.T) {
	emitter := &capturingEmitter{}
	node := newTestNode(t, emitter)

	balance, err := node.Balance(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(million(100)))
	require.Equal(t, []string{events.TypeTransfer, events.TypeTransfer}, emitter.types())

	root, ok, err := node.User(ownerAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), root.ID)
}

func TestCallsRequireSequentialNonces(t *testing.T) {
	node := newTestNode(t, nil)
	ctx := context.Background()

	err := node.Approve(ctx, aliceAddr, 1, custodyAddr, million(10))
	require.ErrorIs(t, err, ErrInvalidNonce)

	require.NoError(t, node.Approve(ctx, aliceAddr, 0, custodyAddr, million(10)))
	receipt, err := node.Register(ctx, aliceAddr, 1, ownerAddr, million(2))
	require.NoError(t, err)
	require.Equal(t, uint64(2), receipt.Participant.ID)

	nonce, err := node.Nonce(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
}

func TestFailedCallKeepsNonceAndDropsEvents(t *testing.T) {
	emitter := &capturingEmitter{}
	node := newTestNode(t, emitter)
	ctx := context.Background()
	emitter.events = nil

	_, err := node.Register(ctx, aliceAddr, 0, ownerAddr, million(2))
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)
	require.Empty(t, emitter.events)

	_, err = node.Register(ctx, aliceAddr, 0, bobAddr, million(2))
	require.EqualError(t, err, "referrer not exists")

	nonce, err := node.Nonce(aliceAddr)
	require.NoError(t, err)
	require.Zero(t, nonce)
	balance, err := node.Balance(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(million(100)))
}

func TestCommittedCallReleasesEvents(t *testing.T) {
	emitter := &capturingEmitter{}
	node := newTestNode(t, emitter)
	ctx := context.Background()
	require.NoError(t, node.Approve(ctx, aliceAddr, 0, custodyAddr, million(2)))
	emitter.events = nil

	_, err := node.Register(ctx, aliceAddr, 1, ownerAddr, million(2))
	require.NoError(t, err)
	require.Contains(t, emitter.types(), events.TypeMatrixRegistration)
	require.Contains(t, emitter.types(), events.TypeMatrixPayout)
	require.Contains(t, emitter.types(), events.TypeTransfer)

	stats, err := node.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.Collected.Cmp(million(2)))
}

func TestPausedNodeRejectsMatrixCalls(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	cfg := testConfig(nil)
	cfg.Paused = true
	node, err := NewNode(db, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, node.Approve(ctx, aliceAddr, 0, custodyAddr, million(2)))
	_, err = node.Register(ctx, aliceAddr, 1, ownerAddr, million(2))
	require.EqualError(t, err, "matrix: module paused")
}

func TestNodeStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)

	node, err := NewNode(db, testConfig(nil))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, node.Approve(ctx, aliceAddr, 0, custodyAddr, million(2)))
	_, err = node.Register(ctx, aliceAddr, 1, ownerAddr, million(2))
	require.NoError(t, err)
	node.Close()
	require.ErrorIs(t, node.Approve(ctx, bobAddr, 0, custodyAddr, million(1)), ErrNodeClosed)
	db.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	restarted, err := NewNode(db, testConfig(nil))
	require.NoError(t, err)

	alice, ok, err := restarted.User(aliceAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), alice.ID)
	next, err := restarted.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)

	balance, err := restarted.Balance(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(million(98)))
	nonce, err := restarted.Nonce(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)

	cfg := testConfig(nil)
	cfg.Owner = bobAddr
	_, err = NewNode(db, cfg)
	require.ErrorIs(t, err, matrix.ErrOwnerMismatch)
}
