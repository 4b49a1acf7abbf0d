package matrix_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"evergreen/core/events"
	"evergreen/core/state"
	nativecommon "evergreen/native/common"
	"evergreen/native/matrix"
	"evergreen/native/token"
	"evergreen/storage"
)

var (
	rootAddr    = addr(0xAA)
	custodyAddr = addr(0xCC)
)

type fixture struct {
	t       *testing.T
	manager *state.Manager
	ledger  *token.Ledger
	engine  *matrix.Engine
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) { c.events = append(c.events, e) }

func addr(fill byte) common.Address {
	var a common.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

// usdt converts a decimal token amount into minor units.
func usdt(value string) *big.Int {
	r, ok := new(big.Rat).SetString(value)
	if !ok {
		panic("bad amount " + value)
	}
	r.Mul(r, big.NewRat(1_000_000, 1))
	if !r.IsInt() {
		panic("amount has more than 6 decimals: " + value)
	}
	return new(big.Int).Set(r.Num())
}

func newFixture(t *testing.T, policy matrix.Policy) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	require.NoError(t, manager.RegisterToken("USDT", "Tether USD", 6))
	ledger, err := token.NewLedger(manager, "USDT")
	require.NoError(t, err)
	engine, err := matrix.NewEngine(manager, ledger, matrix.Config{
		Owner:   rootAddr,
		Custody: custodyAddr,
		Policy:  policy,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Init())
	return &fixture{t: t, manager: manager, ledger: ledger, engine: engine}
}

// fund mints 100 USDT to each account and approves custody for all of it.
func (f *fixture) fund(accounts ...common.Address) {
	f.t.Helper()
	for _, account := range accounts {
		require.NoError(f.t, f.ledger.Mint(account, usdt("100")))
		require.NoError(f.t, f.ledger.Approve(account, custodyAddr, usdt("100")))
	}
}

func (f *fixture) register(candidate, referrer common.Address) *matrix.Receipt {
	f.t.Helper()
	receipt, err := f.engine.Register(candidate, referrer, usdt("2"))
	require.NoError(f.t, err)
	return receipt
}

func (f *fixture) buy(participant common.Address, level uint8) *matrix.Receipt {
	f.t.Helper()
	price, err := f.engine.Catalog().PriceOf(level)
	require.NoError(f.t, err)
	receipt, err := f.engine.BuyLevel(participant, level, price)
	require.NoError(f.t, err)
	return receipt
}

func (f *fixture) balance(account common.Address) *big.Int {
	f.t.Helper()
	balance, err := f.ledger.BalanceOf(account)
	require.NoError(f.t, err)
	return balance
}

func (f *fixture) requireBalance(account common.Address, want string) {
	f.t.Helper()
	got := f.balance(account)
	require.Equalf(f.t, 0, got.Cmp(usdt(want)), "balance of %s: got %s want %s", account.Hex(), got, usdt(want))
}

func (f *fixture) user(account common.Address) *matrix.Participant {
	f.t.Helper()
	record, ok, err := f.engine.User(account)
	require.NoError(f.t, err)
	require.True(f.t, ok, "participant %s missing", account.Hex())
	return record
}

func (f *fixture) requireConservation() {
	f.t.Helper()
	stats, err := f.engine.Stats()
	require.NoError(f.t, err)
	paid := new(big.Int).Add(stats.PaidMembers, stats.PaidBeneficiary)
	paid.Add(paid, f.balance(custodyAddr))
	require.Equal(f.t, 0, stats.Collected.Cmp(paid), "collected %s != paid %s", stats.Collected, paid)
}

func TestInitCreatesRoot(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	root := f.user(rootAddr)
	require.Equal(t, uint64(1), root.ID)
	require.Equal(t, common.Address{}, root.Referrer)
	require.Equal(t, f.engine.Catalog().MaxLevel(), root.MaxLevel)

	next, err := f.engine.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)

	require.NoError(t, f.engine.Init())
	other, err := matrix.NewEngine(f.manager, f.ledger, matrix.Config{Owner: addr(0xAB), Custody: custodyAddr, Policy: matrix.DefaultPolicy()})
	require.NoError(t, err)
	require.ErrorIs(t, other.Init(), matrix.ErrOwnerMismatch)
}

func TestEntryPointsRequireInit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)
	require.NoError(t, manager.RegisterToken("USDT", "Tether USD", 6))
	ledger, err := token.NewLedger(manager, "USDT")
	require.NoError(t, err)
	engine, err := matrix.NewEngine(manager, ledger, matrix.Config{Owner: rootAddr, Custody: custodyAddr, Policy: matrix.DefaultPolicy()})
	require.NoError(t, err)

	_, err = engine.Register(addr(0x01), rootAddr, usdt("2"))
	require.ErrorIs(t, err, matrix.ErrNotInitialized)
}

func TestNewEngineValidatesConfig(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)
	require.NoError(t, manager.RegisterToken("USDT", "Tether USD", 6))
	ledger, err := token.NewLedger(manager, "USDT")
	require.NoError(t, err)

	_, err = matrix.NewEngine(manager, ledger, matrix.Config{Owner: rootAddr, Custody: rootAddr, Policy: matrix.DefaultPolicy()})
	require.ErrorIs(t, err, matrix.ErrInvalidAddress)
	_, err = matrix.NewEngine(manager, ledger, matrix.Config{Owner: rootAddr, Custody: custodyAddr, Policy: matrix.Policy{FeeBps: 10_001, MaxUplineDepth: 1}})
	require.ErrorIs(t, err, matrix.ErrInvalidPolicy)
	_, err = matrix.NewEngine(nil, ledger, matrix.Config{Owner: rootAddr, Custody: custodyAddr, Policy: matrix.DefaultPolicy()})
	require.ErrorIs(t, err, matrix.ErrNilState)
}

func TestRegistrationAndUpgradeScenario(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	referrer, user := addr(0x01), addr(0x02)
	f.fund(referrer, user)

	receipt := f.register(referrer, rootAddr)
	require.Equal(t, uint64(2), receipt.Participant.ID)
	require.Equal(t, uint8(1), receipt.Participant.MaxLevel)

	receipt = f.register(user, referrer)
	require.Equal(t, uint64(3), receipt.Participant.ID)
	require.Equal(t, referrer, receipt.Participant.Referrer)
	require.Equal(t, uint64(1), f.user(referrer).PartnerCount)

	f.buy(user, 2)
	require.Equal(t, uint8(2), f.user(user).MaxLevel)
	ref := f.user(referrer)
	require.Equal(t, uint64(2), ref.ID)
	require.Equal(t, rootAddr, ref.Referrer)
	require.Equal(t, uint64(1), ref.PartnerCount)

	_, err := f.engine.BuyLevel(user, 1, usdt("2"))
	require.EqualError(t, err, "invalid level")

	partners, err := f.engine.Partners(referrer)
	require.NoError(t, err)
	require.Equal(t, []common.Address{user}, partners)
}

func TestUpgradeBalancesWithDefaultPolicy(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	referrer, user := addr(0x01), addr(0x02)
	f.fund(referrer, user)

	f.register(referrer, rootAddr)
	f.register(user, referrer)
	receipt := f.buy(user, 2)

	f.requireBalance(rootAddr, "4.2")
	f.requireBalance(referrer, "99.8")
	f.requireBalance(user, "96")
	f.requireBalance(custodyAddr, "0")

	require.Len(t, receipt.Placements, 1)
	require.Equal(t, rootAddr, receipt.Placements[0].Owner)
	require.True(t, receipt.Placements[0].Spillover)
	require.Equal(t, []matrix.Payout{
		{Recipient: rootAddr, Level: 2, Amount: usdt("0.2"), Kind: matrix.PayoutFee},
		{Recipient: rootAddr, Level: 2, Amount: usdt("1.8"), Kind: matrix.PayoutRoot},
	}, receipt.Payouts)
	f.requireConservation()
}

func TestUpgradeBalancesWithReferencePolicy(t *testing.T) {
	f := newFixture(t, matrix.ReferencePolicy())
	referrer, user := addr(0x01), addr(0x02)
	f.fund(referrer, user)

	f.register(referrer, rootAddr)
	f.register(user, referrer)
	before := f.balance(rootAddr)
	f.buy(user, 2)

	gained := new(big.Int).Sub(f.balance(rootAddr), before)
	require.Equal(t, 0, gained.Cmp(usdt("2")))
	f.requireBalance(rootAddr, "6")
	f.requireBalance(referrer, "98")
	f.requireBalance(user, "96")
	f.requireConservation()
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	referrer, user, stranger := addr(0x01), addr(0x02), addr(0x03)
	f.fund(referrer, user)
	f.register(referrer, rootAddr)

	_, err := f.engine.Register(user, stranger, usdt("2"))
	require.EqualError(t, err, "referrer not exists")
	_, err = f.engine.Register(referrer, rootAddr, usdt("2"))
	require.EqualError(t, err, "user exists")
	_, err = f.engine.Register(user, referrer, usdt("1"))
	require.EqualError(t, err, "registration cost 1 USDT")
	_, err = f.engine.Register(user, referrer, nil)
	require.ErrorIs(t, err, matrix.ErrRegistrationCost)

	_, err = f.engine.BuyLevel(stranger, 2, usdt("2"))
	require.EqualError(t, err, "user not exists")
	_, err = f.engine.BuyLevel(referrer, 3, usdt("4"))
	require.EqualError(t, err, "invalid level")
	_, err = f.engine.BuyLevel(referrer, 0, usdt("2"))
	require.EqualError(t, err, "invalid level")
	_, err = f.engine.BuyLevel(referrer, 2, usdt("3"))
	require.EqualError(t, err, "level cost mismatch")
	_, err = f.engine.BuyLevel(rootAddr, 13, usdt("1"))
	require.EqualError(t, err, "invalid level")

	next, err := f.engine.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)
	f.requireBalance(user, "100")
}

func TestIDsAreGapless(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	referrer := rootAddr
	for i := byte(1); i <= 6; i++ {
		member := addr(i)
		f.fund(member)
		receipt := f.register(member, referrer)
		require.Equal(t, uint64(i)+1, receipt.Participant.ID)
		referrer = member
	}
	_, err := f.engine.Register(addr(0x20), rootAddr, usdt("2"))
	require.Error(t, err)

	for id := uint64(1); id <= 7; id++ {
		record, ok, err := f.engine.UserByID(id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, id, record.ID)
	}
	_, ok, err := f.engine.UserByID(8)
	require.NoError(t, err)
	require.False(t, ok)
	next, err := f.engine.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(8), next)
}

func TestRootCycleAbsorbsNet(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	members := []common.Address{addr(0x01), addr(0x02), addr(0x03)}
	f.fund(members...)

	f.register(members[0], rootAddr)
	f.register(members[1], rootAddr)
	receipt := f.register(members[2], rootAddr)

	require.Equal(t, []matrix.Cycle{{Owner: rootAddr, Level: 1, ReinvestCount: 0}}, receipt.Cycles)
	node, err := f.engine.Node(rootAddr, 1)
	require.NoError(t, err)
	require.Empty(t, node.Slots)
	require.Equal(t, uint64(1), node.ReinvestCount)
	f.requireBalance(rootAddr, "6")
	f.requireConservation()
}

func TestCycleReentersUpline(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	leader := addr(0x10)
	a, b, c := addr(0x01), addr(0x02), addr(0x03)
	f.fund(leader, a, b, c)

	f.register(leader, rootAddr)
	f.register(a, leader)
	f.register(b, leader)
	receipt := f.register(c, leader)

	require.Len(t, receipt.Placements, 2)
	require.Equal(t, leader, receipt.Placements[0].Owner)
	require.Equal(t, uint8(2), receipt.Placements[0].Slot)
	require.Equal(t, matrix.Placement{Entrant: leader, Owner: rootAddr, Level: 1, Slot: 1, Reentry: true}, receipt.Placements[1])
	require.Equal(t, []matrix.Cycle{{Owner: leader, Level: 1, ReinvestCount: 0}}, receipt.Cycles)

	node, err := f.engine.Node(leader, 1)
	require.NoError(t, err)
	require.Empty(t, node.Slots)
	require.Equal(t, uint64(1), node.ReinvestCount)

	rootNode, err := f.engine.Node(rootAddr, 1)
	require.NoError(t, err)
	require.Equal(t, []common.Address{leader, leader}, rootNode.Slots)

	upline, ok, err := f.engine.Upline(leader, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rootAddr, upline)

	f.requireBalance(leader, "101.6")
	f.requireBalance(rootAddr, "4.4")
	f.requireConservation()
}

func TestCascadeDepthLimitFallsBackToRoot(t *testing.T) {
	for _, tc := range []struct {
		name   string
		depth  uint32
		upline common.Address
	}{
		{name: "walks referrers", depth: 32, upline: addr(0x10)},
		{name: "limit reached", depth: 0, upline: rootAddr},
	} {
		t.Run(tc.name, func(t *testing.T) {
			policy := matrix.DefaultPolicy()
			policy.MaxCascadeDepth = tc.depth
			f := newFixture(t, policy)
			grand, parent := addr(0x10), addr(0x20)
			x, y, z := addr(0x01), addr(0x02), addr(0x03)
			f.fund(grand, parent, x, y, z)

			f.register(grand, rootAddr)
			f.register(parent, grand)
			f.register(x, parent)
			f.register(y, parent)
			receipt := f.register(z, parent)

			require.Len(t, receipt.Cycles, 1)
			upline, ok, err := f.engine.Upline(parent, 1)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, tc.upline, upline)
			f.requireConservation()
		})
	}
}

func TestReentryCascadesThroughUpline(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	grand, g1, parent := addr(0x10), addr(0x11), addr(0x20)
	x, y, z := addr(0x01), addr(0x02), addr(0x03)
	f.fund(grand, g1, parent, x, y, z)

	f.register(grand, rootAddr)
	f.register(g1, grand)
	f.register(parent, grand)
	f.register(x, parent)
	f.register(y, parent)
	rootBefore := f.balance(rootAddr)
	receipt := f.register(z, parent)

	require.Equal(t, []matrix.Placement{
		{Entrant: z, Owner: parent, Level: 1, Slot: 2},
		{Entrant: parent, Owner: grand, Level: 1, Slot: 2, Reentry: true},
		{Entrant: grand, Owner: rootAddr, Level: 1, Slot: 1, Reentry: true},
	}, receipt.Placements)
	require.Equal(t, []matrix.Cycle{
		{Owner: parent, Level: 1, ReinvestCount: 0},
		{Owner: grand, Level: 1, ReinvestCount: 0},
	}, receipt.Cycles)

	require.Len(t, receipt.Payouts, 2)
	require.Equal(t, matrix.PayoutFee, receipt.Payouts[0].Kind)
	require.Equal(t, 0, receipt.Payouts[0].Amount.Cmp(usdt("0.2")))
	require.Equal(t, matrix.PayoutRoot, receipt.Payouts[1].Kind)
	require.Equal(t, 0, receipt.Payouts[1].Amount.Cmp(usdt("1.8")))
	for _, payout := range receipt.Payouts {
		require.Equal(t, rootAddr, payout.Recipient)
	}
	gained := new(big.Int).Sub(f.balance(rootAddr), rootBefore)
	require.Equal(t, 0, gained.Cmp(usdt("2")))

	for _, owner := range []common.Address{parent, grand} {
		node, err := f.engine.Node(owner, 1)
		require.NoError(t, err)
		require.Empty(t, node.Slots)
		require.Equal(t, uint64(1), node.ReinvestCount)
	}
	rootNode, err := f.engine.Node(rootAddr, 1)
	require.NoError(t, err)
	require.Equal(t, []common.Address{grand, grand}, rootNode.Slots)

	upline, ok, err := f.engine.Upline(parent, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, grand, upline)

	f.requireBalance(z, "98")
	f.requireBalance(custodyAddr, "0")
	f.requireConservation()
}

func TestSpilloverPaysQualifiedAncestor(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	a, b, c := addr(0x01), addr(0x02), addr(0x03)
	f.fund(a, b, c)

	f.register(a, rootAddr)
	f.register(b, a)
	f.register(c, b)
	f.buy(a, 2)
	before := f.balance(a)

	receipt := f.buy(c, 2)
	require.Len(t, receipt.Placements, 1)
	require.Equal(t, a, receipt.Placements[0].Owner)
	require.True(t, receipt.Placements[0].Spillover)
	require.Equal(t, matrix.PayoutSpillover, receipt.Payouts[1].Kind)

	gained := new(big.Int).Sub(f.balance(a), before)
	require.Equal(t, 0, gained.Cmp(usdt("1.8")))
	f.requireBalance(b, "99.8")
	f.requireConservation()
}

func TestFailedPaymentRollsBack(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	emitter := &capturingEmitter{}
	f.engine.SetEmitter(emitter)
	referrer, user := addr(0x01), addr(0x02)
	f.fund(referrer)
	require.NoError(t, f.ledger.Mint(user, usdt("100")))
	require.NoError(t, f.ledger.Approve(user, custodyAddr, usdt("1")))

	f.register(referrer, rootAddr)
	emitted := len(emitter.events)
	statsBefore, err := f.engine.Stats()
	require.NoError(t, err)

	_, err = f.engine.Register(user, referrer, usdt("2"))
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)

	_, ok, err := f.engine.User(user)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(0), f.user(referrer).PartnerCount)
	next, err := f.engine.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)
	f.requireBalance(user, "100")
	require.Len(t, emitter.events, emitted)

	statsAfter, err := f.engine.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, statsBefore.Collected.Cmp(statsAfter.Collected))
}

func TestReentrantPayoutHookAbortsCall(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	referrer, user, intruder := addr(0x01), addr(0x02), addr(0x03)
	f.fund(referrer, user, intruder)
	f.register(referrer, rootAddr)

	var nested error
	f.ledger.SetReceiveHook(referrer, func(common.Address, *big.Int) error {
		_, nested = f.engine.Register(intruder, referrer, usdt("2"))
		return nested
	})

	_, err := f.engine.Register(user, referrer, usdt("2"))
	require.ErrorIs(t, err, matrix.ErrReentrantCall)
	require.ErrorIs(t, nested, matrix.ErrReentrantCall)

	for _, account := range []common.Address{user, intruder} {
		_, ok, err := f.engine.User(account)
		require.NoError(t, err)
		require.False(t, ok)
	}
	f.requireBalance(referrer, "98")
	f.requireBalance(user, "100")

	f.ledger.SetReceiveHook(referrer, nil)
	f.register(user, referrer)
	f.requireConservation()
}

func TestPausedModuleRejectsCalls(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	f.fund(addr(0x01))
	f.engine.SetPauses(nativecommon.StaticPauses{"matrix": true})

	_, err := f.engine.Register(addr(0x01), rootAddr, usdt("2"))
	require.EqualError(t, err, "matrix: module paused")
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))

	f.engine.SetPauses(nil)
	f.register(addr(0x01), rootAddr)
}

func TestEventsFollowCommittedCall(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	emitter := &capturingEmitter{}
	f.engine.SetEmitter(emitter)
	f.fund(addr(0x01))

	f.register(addr(0x01), rootAddr)
	types := make([]string, len(emitter.events))
	for i, evt := range emitter.events {
		types[i] = evt.EventType()
	}
	require.Equal(t, []string{
		events.TypeMatrixRegistration,
		events.TypeMatrixPlacement,
		events.TypeMatrixPayout,
		events.TypeMatrixPayout,
	}, types)
	payout, ok := emitter.events[3].(events.MatrixPayout)
	require.True(t, ok)
	require.Equal(t, string(matrix.PayoutRoot), payout.Kind)
	require.Equal(t, 0, payout.Amount.Cmp(usdt("1.8")))
}

func TestTokenEventsWaitForCommit(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	emitter := &capturingEmitter{}
	f.engine.SetEmitter(emitter)
	f.ledger.SetEmitter(emitter)
	user := addr(0x01)
	f.fund(user)
	emitter.events = nil

	f.ledger.SetReceiveHook(rootAddr, func(common.Address, *big.Int) error {
		return errors.New("recipient rejected")
	})
	_, err := f.engine.Register(user, rootAddr, usdt("2"))
	require.ErrorContains(t, err, "recipient rejected")
	require.Empty(t, emitter.events)
	f.requireBalance(user, "100")

	f.ledger.SetReceiveHook(rootAddr, nil)
	f.register(user, rootAddr)
	types := make([]string, len(emitter.events))
	for i, evt := range emitter.events {
		types[i] = evt.EventType()
	}
	require.Equal(t, []string{
		events.TypeTransfer,
		events.TypeMatrixRegistration,
		events.TypeMatrixPlacement,
		events.TypeTransfer,
		events.TypeMatrixPayout,
		events.TypeTransfer,
		events.TypeMatrixPayout,
	}, types)

	require.NoError(t, f.ledger.Approve(user, custodyAddr, usdt("1")))
	require.Len(t, emitter.events, len(types)+1)
}

func TestNodesNeverReachArity(t *testing.T) {
	f := newFixture(t, matrix.DefaultPolicy())
	members := []common.Address{rootAddr}
	for i := 1; i <= 40; i++ {
		member := addr(byte(i))
		f.fund(member)
		referrer := members[(i*5+3)%len(members)]
		f.register(member, referrer)
		members = append(members, member)
		if i%3 == 0 {
			f.buy(member, 2)
		}
	}
	for _, member := range members {
		for level := uint8(1); level <= 2; level++ {
			node, err := f.engine.Node(member, level)
			require.NoError(t, err)
			arity, err := f.engine.Catalog().ArityOf(level)
			require.NoError(t, err)
			require.Less(t, len(node.Slots), int(arity))
		}
	}
	f.requireBalance(custodyAddr, "0")
	f.requireConservation()
}
