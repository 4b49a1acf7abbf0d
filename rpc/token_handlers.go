package rpc

import (
	"context"

	"evergreen/crypto"
)

type approveArgs struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferArgs struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type allowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type AllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// CommitResult acknowledges a committed call that has no richer receipt.
type CommitResult struct {
	From  string `json:"from"`
	Nonce uint64 `json:"nonce"`
}

func (s *Server) routes() map[string]methodHandler {
	return map[string]methodHandler{
		"matrix_register": {module: "matrix", handle: s.handleMatrixRegister},
		"matrix_buyLevel": {module: "matrix", handle: s.handleMatrixBuyLevel},
		"matrix_user":     {module: "matrix", handle: s.handleMatrixUser},
		"matrix_userById": {module: "matrix", handle: s.handleMatrixUserByID},
		"matrix_partners": {module: "matrix", handle: s.handleMatrixPartners},
		"matrix_node":     {module: "matrix", handle: s.handleMatrixNode},
		"matrix_upline":   {module: "matrix", handle: s.handleMatrixUpline},
		"matrix_stats":    {module: "matrix", handle: s.handleMatrixStats},
		"matrix_levels":   {module: "matrix", handle: s.handleMatrixLevels},
		"matrix_info":     {module: "matrix", handle: s.handleMatrixInfo},
		"token_approve":   {module: "token", handle: s.handleTokenApprove},
		"token_transfer":  {module: "token", handle: s.handleTokenTransfer},
		"token_balance":   {module: "token", handle: s.handleTokenBalance},
		"token_allowance": {module: "token", handle: s.handleTokenAllowance},
		"account_nonce":   {module: "account", handle: s.handleAccountNonce},
	}
}

func (s *Server) handleTokenApprove(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var args approveArgs
	from, nonce, rpcErr := s.authenticate(req, &args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, err := crypto.ParseAddress(args.Spender)
	if err != nil {
		return nil, invalidParams("spender: " + err.Error())
	}
	amount, rpcErr := parseAmount("amount", args.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.Approve(ctx, from, nonce, spender, amount); err != nil {
		return nil, fromError(err)
	}
	return CommitResult{From: from.Hex(), Nonce: nonce}, nil
}

func (s *Server) handleTokenTransfer(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var args transferArgs
	from, nonce, rpcErr := s.authenticate(req, &args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, err := crypto.ParseAddress(args.To)
	if err != nil {
		return nil, invalidParams("to: " + err.Error())
	}
	amount, rpcErr := parseAmount("amount", args.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.Transfer(ctx, from, nonce, to, amount); err != nil {
		return nil, fromError(err)
	}
	return CommitResult{From: from.Hex(), Nonce: nonce}, nil
}

func (s *Server) handleTokenBalance(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return nil, fromError(err)
	}
	return BalanceResult{Address: addr.Hex(), Token: s.node.TokenSymbol(), Balance: balance.String()}, nil
}

func (s *Server) handleTokenAllowance(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params allowanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, err := crypto.ParseAddress(params.Owner)
	if err != nil {
		return nil, invalidParams("owner: " + err.Error())
	}
	spender, err := crypto.ParseAddress(params.Spender)
	if err != nil {
		return nil, invalidParams("spender: " + err.Error())
	}
	allowance, err := s.node.Allowance(owner, spender)
	if err != nil {
		return nil, fromError(err)
	}
	return AllowanceResult{Owner: owner.Hex(), Spender: spender.Hex(), Allowance: allowance.String()}, nil
}

func (s *Server) handleAccountNonce(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		return nil, fromError(err)
	}
	return NonceResult{Address: addr.Hex(), Nonce: nonce}, nil
}
