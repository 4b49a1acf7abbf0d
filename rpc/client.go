package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/crypto"
)

// Client issues JSON-RPC calls against an evergreend endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64

	domainMu sync.Mutex
	domain   *common.Address
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Call invokes method with params and decodes the result into out when it is
// non-nil. JSON-RPC failures are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	request := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  []interface{}{params},
	}
	if params == nil {
		request["params"] = []interface{}{}
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("rpc %s: read response: %w", method, err)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("rpc %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		envelope.Error.status = resp.StatusCode
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// Nonce returns the next nonce expected for the key's address.
func (c *Client) Nonce(ctx context.Context, key *crypto.PrivateKey) (uint64, error) {
	var result NonceResult
	if err := c.Call(ctx, "account_nonce", addressParams{Address: key.Address().Hex()}, &result); err != nil {
		return 0, err
	}
	return result.Nonce, nil
}

// Domain returns the custody address signed calls are bound to. It is
// fetched once per client.
func (c *Client) Domain(ctx context.Context) (common.Address, error) {
	c.domainMu.Lock()
	defer c.domainMu.Unlock()
	if c.domain != nil {
		return *c.domain, nil
	}
	info, err := c.Info(ctx)
	if err != nil {
		return common.Address{}, err
	}
	custody, err := crypto.ParseAddress(info.Custody)
	if err != nil {
		return common.Address{}, fmt.Errorf("rpc: custody address: %w", err)
	}
	c.domain = &custody
	return custody, nil
}

// Send signs args for method with the key's current nonce and submits it.
func (c *Client) Send(ctx context.Context, key *crypto.PrivateKey, method string, args interface{}, out interface{}) error {
	domain, err := c.Domain(ctx)
	if err != nil {
		return err
	}
	nonce, err := c.Nonce(ctx, key)
	if err != nil {
		return err
	}
	call, err := NewSignedCall(key, domain, method, nonce, args)
	if err != nil {
		return err
	}
	return c.Call(ctx, method, call, out)
}

func (c *Client) Register(ctx context.Context, key *crypto.PrivateKey, referrer, payment string) (*ReceiptResult, error) {
	var out ReceiptResult
	if err := c.Send(ctx, key, "matrix_register", registerArgs{Referrer: referrer, Payment: payment}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BuyLevel(ctx context.Context, key *crypto.PrivateKey, level uint8, payment string) (*ReceiptResult, error) {
	var out ReceiptResult
	if err := c.Send(ctx, key, "matrix_buyLevel", buyLevelArgs{Level: uint64(level), Payment: payment}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Approve(ctx context.Context, key *crypto.PrivateKey, spender, amount string) error {
	return c.Send(ctx, key, "token_approve", approveArgs{Spender: spender, Amount: amount}, nil)
}

func (c *Client) Transfer(ctx context.Context, key *crypto.PrivateKey, to, amount string) error {
	return c.Send(ctx, key, "token_transfer", transferArgs{To: to, Amount: amount}, nil)
}

func (c *Client) User(ctx context.Context, address string) (*ParticipantResult, error) {
	var out ParticipantResult
	if err := c.Call(ctx, "matrix_user", addressParams{Address: address}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Node(ctx context.Context, address string, level uint8) (*NodeResult, error) {
	var out NodeResult
	if err := c.Call(ctx, "matrix_node", nodeParams{Address: address, Level: uint64(level)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Balance(ctx context.Context, address string) (*BalanceResult, error) {
	var out BalanceResult
	if err := c.Call(ctx, "token_balance", addressParams{Address: address}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Levels(ctx context.Context) ([]LevelResult, error) {
	var out []LevelResult
	if err := c.Call(ctx, "matrix_levels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (*StatsResult, error) {
	var out StatsResult
	if err := c.Call(ctx, "matrix_stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Info(ctx context.Context) (*InfoResult, error) {
	var out InfoResult
	if err := c.Call(ctx, "matrix_info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
