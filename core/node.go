package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"evergreen/core/events"
	"evergreen/core/genesis"
	ledgerstate "evergreen/core/state"
	nativecommon "evergreen/native/common"
	"evergreen/native/matrix"
	"evergreen/native/token"
	"evergreen/observability/logging"
	telemetry "evergreen/observability/otel"
	"evergreen/storage"
)

var (
	ErrInvalidNonce = errors.New("node: invalid nonce")
	ErrNodeClosed   = errors.New("node: closed")
)

// Config wires a node to its economics and genesis state.
type Config struct {
	Owner   common.Address
	Custody common.Address
	Catalog *matrix.Catalog
	Policy  matrix.Policy
	Paused  bool
	Genesis *genesis.Spec
	Emitter events.Emitter
	Logger  *slog.Logger
}

// Node is the single writer of the ledger. Every mutating call runs under one
// mutex, is checked against the caller's nonce and is committed to disk before
// its events are released.
type Node struct {
	db      storage.Database
	state   *ledgerstate.Manager
	ledger  *token.Ledger
	engine  *matrix.Engine
	pending events.Buffer
	emitter events.Emitter
	logger  *slog.Logger
	stateMu sync.Mutex
	closed  bool

	streamMu      sync.Mutex
	streamSubs    map[uint64]chan EventUpdate
	streamNextID  uint64
	streamSeq     uint64
	streamHistory []EventUpdate
}

// NewNode opens the ledger stored in db, applying genesis on first start.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if cfg.Genesis == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	n := &Node{
		db:     db,
		state:  ledgerstate.NewManager(db),
		logger: logging.OrDefault(cfg.Logger).With(slog.String("component", "node")),
	}
	n.emitter = events.Fanout{cfg.Emitter, streamEmitter{node: n}}

	fresh := true
	if err := genesis.RegisterToken(n.state, cfg.Genesis); errors.Is(err, genesis.ErrAlreadyApplied) {
		fresh = false
	} else if err != nil {
		return nil, err
	}

	ledger, err := token.NewLedger(n.state, cfg.Genesis.Token.Symbol)
	if err != nil {
		return nil, err
	}
	ledger.SetEmitter(&n.pending)
	n.ledger = ledger

	engine, err := matrix.NewEngine(n.state, ledger, matrix.Config{
		Owner:   cfg.Owner,
		Custody: cfg.Custody,
		Catalog: cfg.Catalog,
		Policy:  cfg.Policy,
	})
	if err != nil {
		return nil, err
	}
	engine.SetEmitter(&n.pending)
	engine.SetPauses(nativecommon.StaticPauses{"matrix": cfg.Paused})
	n.engine = engine

	if err := engine.Init(); err != nil {
		return nil, err
	}
	if fresh {
		if err := genesis.Mint(ledger, cfg.Genesis); err != nil {
			n.state.Discard()
			return nil, err
		}
	}
	if err := n.state.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	n.pending.Flush(n.emitter)
	n.logger.Info("ledger ready",
		slog.String("owner", cfg.Owner.Hex()),
		slog.String("custody", cfg.Custody.Hex()),
		slog.String("token", ledger.Symbol()),
		slog.Bool("genesis", fresh))
	return n, nil
}

// apply runs fn as one committed call on behalf of from. The supplied nonce
// must equal the number of calls from has committed so far.
func (n *Node) apply(ctx context.Context, method string, from common.Address, nonce uint64, fn func() error) (err error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	_, span := telemetry.Tracer().Start(ctx, "node."+method, trace.WithAttributes(
		attribute.String("from", from.Hex()),
		attribute.Int64("nonce", int64(nonce)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if n.closed {
		return ErrNodeClosed
	}
	current, err := n.state.Nonce(from.Bytes())
	if err != nil {
		return err
	}
	if nonce != current {
		return fmt.Errorf("%w: expected %d got %d", ErrInvalidNonce, current, nonce)
	}
	defer func() {
		if err != nil {
			n.state.Discard()
			n.pending.Reset()
			n.logger.Debug("call rejected", slog.String("method", method), slog.String("from", from.Hex()), slog.String("error", err.Error()))
		}
	}()
	if err = fn(); err != nil {
		return err
	}
	if _, err = n.state.IncrementNonce(from.Bytes()); err != nil {
		return err
	}
	writes := n.state.Pending()
	span.SetAttributes(attribute.Int("writes", writes))
	if err = n.state.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	n.pending.Flush(n.emitter)
	n.logger.Info("call committed",
		slog.String("method", method),
		slog.String("from", from.Hex()),
		slog.Int("writes", writes))
	return nil
}

// Register admits from under referrer.
func (n *Node) Register(ctx context.Context, from common.Address, nonce uint64, referrer common.Address, payment *big.Int) (*matrix.Receipt, error) {
	var receipt *matrix.Receipt
	err := n.apply(ctx, "register", from, nonce, func() error {
		var err error
		receipt, err = n.engine.Register(from, referrer, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// BuyLevel purchases level for from.
func (n *Node) BuyLevel(ctx context.Context, from common.Address, nonce uint64, level uint8, payment *big.Int) (*matrix.Receipt, error) {
	var receipt *matrix.Receipt
	err := n.apply(ctx, "buyLevel", from, nonce, func() error {
		var err error
		receipt, err = n.engine.BuyLevel(from, level, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Approve lets spender move amount out of from's balance.
func (n *Node) Approve(ctx context.Context, from common.Address, nonce uint64, spender common.Address, amount *big.Int) error {
	return n.apply(ctx, "approve", from, nonce, func() error {
		return n.ledger.Approve(from, spender, amount)
	})
}

// Transfer moves amount from from to to.
func (n *Node) Transfer(ctx context.Context, from common.Address, nonce uint64, to common.Address, amount *big.Int) error {
	return n.apply(ctx, "transfer", from, nonce, func() error {
		return n.ledger.Transfer(from, to, amount)
	})
}

func (n *Node) Owner() common.Address   { return n.engine.Owner() }
func (n *Node) Custody() common.Address { return n.engine.Custody() }
func (n *Node) TokenSymbol() string     { return n.ledger.Symbol() }
func (n *Node) Catalog() *matrix.Catalog {
	return n.engine.Catalog()
}
func (n *Node) Policy() matrix.Policy { return n.engine.Policy() }

func (n *Node) User(addr common.Address) (*matrix.Participant, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.User(addr)
}

func (n *Node) UserByID(id uint64) (*matrix.Participant, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.UserByID(id)
}

func (n *Node) Partners(addr common.Address) ([]common.Address, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Partners(addr)
}

func (n *Node) MatrixNode(owner common.Address, level uint8) (*matrix.Node, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Node(owner, level)
}

func (n *Node) Upline(member common.Address, level uint8) (common.Address, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Upline(member, level)
}

func (n *Node) Stats() (*matrix.Stats, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Stats()
}

func (n *Node) NextID() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.NextID()
}

func (n *Node) Balance(addr common.Address) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.BalanceOf(addr)
}

func (n *Node) Allowance(owner, spender common.Address) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.Allowance(owner, spender)
}

func (n *Node) Nonce(addr common.Address) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Nonce(addr.Bytes())
}

// Close stops accepting calls. The database is owned by the caller.
func (n *Node) Close() {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.closed = true
}
