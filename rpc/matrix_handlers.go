package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/crypto"
	"evergreen/native/matrix"
)

type registerArgs struct {
	Referrer string `json:"referrer"`
	Payment  string `json:"payment"`
}

type buyLevelArgs struct {
	Level   uint64 `json:"level"`
	Payment string `json:"payment"`
}

type addressParams struct {
	Address string `json:"address"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type nodeParams struct {
	Address string `json:"address"`
	Level   uint64 `json:"level"`
}

// ParticipantResult is the public view of a registry record. Unknown
// addresses are reported with Exists false and zero values.
type ParticipantResult struct {
	Address      string `json:"address"`
	Exists       bool   `json:"exists"`
	ID           uint64 `json:"id"`
	Referrer     string `json:"referrer"`
	PartnerCount uint64 `json:"partnerCount"`
	MaxLevel     uint8  `json:"maxLevel"`
}

type NodeResult struct {
	Owner         string   `json:"owner"`
	Level         uint8    `json:"level"`
	Arity         uint8    `json:"arity"`
	Slots         []string `json:"slots"`
	ReinvestCount uint64   `json:"reinvestCount"`
}

type PlacementResult struct {
	Entrant   string `json:"entrant"`
	Owner     string `json:"owner"`
	Level     uint8  `json:"level"`
	Slot      uint8  `json:"slot"`
	Reentry   bool   `json:"reentry"`
	Spillover bool   `json:"spillover"`
}

type CycleResult struct {
	Owner         string `json:"owner"`
	Level         uint8  `json:"level"`
	ReinvestCount uint64 `json:"reinvestCount"`
}

type PayoutResult struct {
	Recipient string `json:"recipient"`
	Level     uint8  `json:"level"`
	Amount    string `json:"amount"`
	Kind      string `json:"kind"`
}

// ReceiptResult reports everything a committed register or buyLevel call did.
type ReceiptResult struct {
	Participant ParticipantResult `json:"participant"`
	Level       uint8             `json:"level"`
	Paid        string            `json:"paid"`
	Placements  []PlacementResult `json:"placements"`
	Cycles      []CycleResult     `json:"cycles"`
	Payouts     []PayoutResult    `json:"payouts"`
}

type UplineResult struct {
	Member string `json:"member"`
	Level  uint8  `json:"level"`
	Owner  string `json:"owner"`
	Found  bool   `json:"found"`
}

type StatsResult struct {
	Collected       string `json:"collected"`
	PaidMembers     string `json:"paidMembers"`
	PaidBeneficiary string `json:"paidBeneficiary"`
	CustodyBalance  string `json:"custodyBalance"`
}

type LevelResult struct {
	Level uint8  `json:"level"`
	Price string `json:"price"`
	Arity uint8  `json:"arity"`
}

type InfoResult struct {
	Owner    string `json:"owner"`
	Custody  string `json:"custody"`
	Token    string `json:"token"`
	NextID   uint64 `json:"nextId"`
	MaxLevel uint8  `json:"maxLevel"`
	FeeBps   uint32 `json:"feeBps"`
}

func (s *Server) handleMatrixRegister(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var args registerArgs
	from, nonce, rpcErr := s.authenticate(req, &args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	referrer, err := crypto.ParseAddress(args.Referrer)
	if err != nil {
		return nil, invalidParams("referrer: " + err.Error())
	}
	payment, rpcErr := parseAmount("payment", args.Payment)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.node.Register(ctx, from, nonce, referrer, payment)
	if err != nil {
		return nil, fromError(err)
	}
	return formatReceipt(receipt), nil
}

func (s *Server) handleMatrixBuyLevel(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var args buyLevelArgs
	from, nonce, rpcErr := s.authenticate(req, &args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	level, rpcErr := levelArg(args.Level)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payment, rpcErr := parseAmount("payment", args.Payment)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.node.BuyLevel(ctx, from, nonce, level, payment)
	if err != nil {
		return nil, fromError(err)
	}
	return formatReceipt(receipt), nil
}

func (s *Server) handleMatrixUser(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	record, ok, err := s.node.User(addr)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return ParticipantResult{Address: addr.Hex(), Referrer: common.Address{}.Hex()}, nil
	}
	return formatParticipant(record), nil
}

func (s *Server) handleMatrixUserByID(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params idParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	record, ok, err := s.node.UserByID(params.ID)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return ParticipantResult{Address: common.Address{}.Hex(), Referrer: common.Address{}.Hex()}, nil
	}
	return formatParticipant(record), nil
}

func (s *Server) handleMatrixPartners(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	partners, err := s.node.Partners(addr)
	if err != nil {
		return nil, fromError(err)
	}
	return hexAddresses(partners), nil
}

func (s *Server) handleMatrixNode(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params nodeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	level, rpcErr := levelArg(params.Level)
	if rpcErr != nil {
		return nil, rpcErr
	}
	node, err := s.node.MatrixNode(addr, level)
	if err != nil {
		return nil, fromError(err)
	}
	arity, _ := s.node.Catalog().ArityOf(level)
	return NodeResult{
		Owner:         node.Owner.Hex(),
		Level:         node.Level,
		Arity:         arity,
		Slots:         hexAddresses(node.Slots),
		ReinvestCount: node.ReinvestCount,
	}, nil
}

func (s *Server) handleMatrixUpline(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params nodeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	level, rpcErr := levelArg(params.Level)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, ok, err := s.node.Upline(addr, level)
	if err != nil {
		return nil, fromError(err)
	}
	return UplineResult{Member: addr.Hex(), Level: level, Owner: owner.Hex(), Found: ok}, nil
}

func (s *Server) handleMatrixStats(_ context.Context, _ *RPCRequest) (interface{}, *RPCError) {
	stats, err := s.node.Stats()
	if err != nil {
		return nil, fromError(err)
	}
	custody, err := s.node.Balance(s.node.Custody())
	if err != nil {
		return nil, fromError(err)
	}
	return StatsResult{
		Collected:       stats.Collected.String(),
		PaidMembers:     stats.PaidMembers.String(),
		PaidBeneficiary: stats.PaidBeneficiary.String(),
		CustodyBalance:  custody.String(),
	}, nil
}

func (s *Server) handleMatrixLevels(_ context.Context, _ *RPCRequest) (interface{}, *RPCError) {
	levels := s.node.Catalog().Levels()
	out := make([]LevelResult, len(levels))
	for i, lvl := range levels {
		out[i] = LevelResult{Level: uint8(i + 1), Price: lvl.Price.String(), Arity: lvl.Arity}
	}
	return out, nil
}

func (s *Server) handleMatrixInfo(_ context.Context, _ *RPCRequest) (interface{}, *RPCError) {
	next, err := s.node.NextID()
	if err != nil {
		return nil, fromError(err)
	}
	return InfoResult{
		Owner:    s.node.Owner().Hex(),
		Custody:  s.node.Custody().Hex(),
		Token:    s.node.TokenSymbol(),
		NextID:   next,
		MaxLevel: s.node.Catalog().MaxLevel(),
		FeeBps:   s.node.Policy().FeeBps,
	}, nil
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("expected a single params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}

// levelArg narrows a decoded level. Values no catalog can hold report the
// same reason as any other unknown level.
func levelArg(value uint64) (uint8, *RPCError) {
	if value > 255 {
		return 0, fromError(matrix.ErrInvalidLevel)
	}
	return uint8(value), nil
}

func parseAmount(field, value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(field + " required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, invalidParams(field + " must be a non-negative base-10 integer")
	}
	return amount, nil
}

func hexAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.Hex()
	}
	return out
}

func formatParticipant(p *matrix.Participant) ParticipantResult {
	return ParticipantResult{
		Address:      p.Address.Hex(),
		Exists:       true,
		ID:           p.ID,
		Referrer:     p.Referrer.Hex(),
		PartnerCount: p.PartnerCount,
		MaxLevel:     p.MaxLevel,
	}
}

func formatReceipt(r *matrix.Receipt) ReceiptResult {
	out := ReceiptResult{
		Participant: formatParticipant(r.Participant),
		Level:       r.Level,
		Paid:        r.Paid.String(),
		Placements:  make([]PlacementResult, len(r.Placements)),
		Cycles:      make([]CycleResult, len(r.Cycles)),
		Payouts:     make([]PayoutResult, len(r.Payouts)),
	}
	for i, p := range r.Placements {
		out.Placements[i] = PlacementResult{
			Entrant:   p.Entrant.Hex(),
			Owner:     p.Owner.Hex(),
			Level:     p.Level,
			Slot:      p.Slot,
			Reentry:   p.Reentry,
			Spillover: p.Spillover,
		}
	}
	for i, c := range r.Cycles {
		out.Cycles[i] = CycleResult{Owner: c.Owner.Hex(), Level: c.Level, ReinvestCount: c.ReinvestCount}
	}
	for i, p := range r.Payouts {
		out.Payouts[i] = PayoutResult{
			Recipient: p.Recipient.Hex(),
			Level:     p.Level,
			Amount:    p.Amount.String(),
			Kind:      string(p.Kind),
		}
	}
	return out
}
