package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"evergreen/crypto"
	"evergreen/observability/logging"
)

// SignedCall is the envelope carried by every state-changing method. The
// signature covers the deployment's custody address, the method name, the
// sender, the nonce and the compacted JSON arguments.
type SignedCall struct {
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Args      json.RawMessage `json:"args"`
	Signature string          `json:"signature"`
}

// CallDigest returns the keccak256 digest signed for a call. domain is the
// custody address of the target deployment, so a call signed for one ledger
// does not verify on another.
func CallDigest(domain common.Address, method string, from common.Address, nonce uint64, args []byte) ([]byte, error) {
	var compact bytes.Buffer
	if len(bytes.TrimSpace(args)) > 0 {
		if err := json.Compact(&compact, args); err != nil {
			return nil, fmt.Errorf("compact args: %w", err)
		}
	}
	nonceBytes := common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32)
	return crypto.Digest(domain.Bytes(), []byte(method), []byte{0}, from.Bytes(), nonceBytes, compact.Bytes()), nil
}

// NewSignedCall marshals args and signs the call for the deployment
// identified by domain.
func NewSignedCall(key *crypto.PrivateKey, domain common.Address, method string, nonce uint64, args interface{}) (*SignedCall, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	from := key.Address()
	digest, err := CallDigest(domain, method, from, nonce, raw)
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return nil, err
	}
	return &SignedCall{From: from.Hex(), Nonce: nonce, Args: raw, Signature: hexutil.Encode(sig)}, nil
}

// authenticate verifies the envelope in params[0] against this node's
// custody domain, decodes its arguments into out and returns the recovered
// sender.
func (s *Server) authenticate(req *RPCRequest, out interface{}) (common.Address, uint64, *RPCError) {
	if len(req.Params) != 1 {
		return common.Address{}, 0, invalidParams("signed call object required")
	}
	var call SignedCall
	if err := json.Unmarshal(req.Params[0], &call); err != nil {
		return common.Address{}, 0, invalidParams("invalid signed call: " + err.Error())
	}
	from, err := crypto.ParseAddress(call.From)
	if err != nil {
		return common.Address{}, 0, invalidParams(err.Error())
	}
	sig, err := hexutil.Decode(strings.TrimSpace(call.Signature))
	if err != nil {
		return common.Address{}, 0, unauthorized("malformed signature",
			slog.String("from", from.Hex()), logging.MaskField("signature", call.Signature))
	}
	digest, err := CallDigest(s.node.Custody(), req.Method, from, call.Nonce, call.Args)
	if err != nil {
		return common.Address{}, 0, invalidParams(err.Error())
	}
	signer, err := crypto.RecoverSigner(digest, sig)
	if err != nil {
		return common.Address{}, 0, unauthorized(err.Error(),
			slog.String("from", from.Hex()), slog.String("signature", logging.ShortHex(call.Signature)))
	}
	if signer != from {
		return common.Address{}, 0, unauthorized("signature does not match sender",
			slog.String("from", from.Hex()),
			slog.String("signer", signer.Hex()),
			slog.String("signature", logging.ShortHex(call.Signature)))
	}
	if out != nil {
		if len(call.Args) == 0 {
			return common.Address{}, 0, invalidParams("args required")
		}
		if err := json.Unmarshal(call.Args, out); err != nil {
			return common.Address{}, 0, invalidParams("invalid args: " + err.Error())
		}
	}
	return from, call.Nonce, nil
}

func invalidParams(message string) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, status: http.StatusBadRequest}
}

func unauthorized(message string, attrs ...slog.Attr) *RPCError {
	return &RPCError{Code: codeUnauthorized, Message: message, status: http.StatusUnauthorized, attrs: attrs}
}
