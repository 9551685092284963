// Package chain is the typed client for the external Verus node. It
// speaks bitcoin-style JSON-RPC over HTTP basic auth and fronts
// getidentity with a TTL/LRU cache.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vap/backend/internal/circuitbreaker"
)

const defaultTimeout = 5 * time.Second

// Client talks to a single chain node.
type Client struct {
	host    string
	user    string
	pass    string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	cache   *identityCache
}

// NewClient builds a client for the node at host (http://host:port).
func NewClient(host, user, pass string) *Client {
	return &Client{
		host: host,
		user: user,
		pass: pass,
		http: &http.Client{Timeout: defaultTimeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "chain-rpc",
			FailureThreshold: 3,
			Window:           60 * time.Second,
			OpenFor:          30 * time.Second,
		}),
		cache: newIdentityCache(1000, 5*time.Minute),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one RPC round trip under the breaker and decodes the
// result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("chain %s: %w", method, err)
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "vap", Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Record(false)
		return fmt.Errorf("chain %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		c.breaker.Record(false)
		return fmt.Errorf("chain %s: decode: %w", method, err)
	}
	c.breaker.Record(true)

	// Node-level errors (bad txid, unknown identity) are not transport
	// failures; the breaker only tracks reachability.
	if rpcResp.Error != nil {
		return fmt.Errorf("chain %s: %w", method, rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("chain %s: result: %w", method, err)
		}
	}
	return nil
}

// GetIdentity fetches an identity by friendly name or i-address,
// consulting the 5-minute cache first.
func (c *Client) GetIdentity(ctx context.Context, verusID string) (*IdentityResult, error) {
	if cached := c.cache.get(verusID); cached != nil {
		return cached, nil
	}
	var res IdentityResult
	if err := c.call(ctx, "getidentity", []any{verusID}, &res); err != nil {
		return nil, err
	}
	c.cache.put(verusID, &res)
	// The canonical address is also a valid lookup key.
	if addr := res.Identity.IdentityAddress; addr != "" && addr != verusID {
		c.cache.put(addr, &res)
	}
	return &res, nil
}

// ResolveIdentityAddress maps a friendly name or address to the
// canonical 34-char identity address.
func (c *Client) ResolveIdentityAddress(ctx context.Context, verusID string) (string, error) {
	res, err := c.GetIdentity(ctx, verusID)
	if err != nil {
		return "", err
	}
	if res.Identity.IdentityAddress == "" {
		return "", fmt.Errorf("identity %s has no address", verusID)
	}
	return res.Identity.IdentityAddress, nil
}

// VerifyMessage checks a base64 signature over message for the identity.
func (c *Client) VerifyMessage(ctx context.Context, identityAddress, message, signature string) (bool, error) {
	var ok bool
	if err := c.call(ctx, "verifymessage", []any{identityAddress, signature, message}, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// SignData asks the node to sign a datahash with a platform-controlled
// identity. Only used for platform consent requests, never user keys.
func (c *Client) SignData(ctx context.Context, address, datahash string) (string, error) {
	var res struct {
		Signature string `json:"signature"`
	}
	params := []any{map[string]string{"address": address, "datahash": datahash}}
	if err := c.call(ctx, "signdata", params, &res); err != nil {
		return "", err
	}
	return res.Signature, nil
}

// GetTransaction fetches confirmation count and outputs for a txid.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, "getrawtransaction", []any{txid, 1}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetBlockCount returns the current chain height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var info struct {
		Blocks int64 `json:"blocks"`
	}
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return 0, err
	}
	return info.Blocks, nil
}

// InvalidateIdentity drops a cache entry, forcing the next read through
// to the node. The indexer calls this when it sees an identity update.
func (c *Client) InvalidateIdentity(verusID string) {
	c.cache.invalidate(verusID)
}
