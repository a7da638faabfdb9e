// Package zusd provides a typed JSON-RPC client for the zusd daemon. It is
// the client the gateway and CLI use, and is importable by external tooling.
package zusd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const maxResponseBytes = 4 << 20

// Client speaks the daemon's JSON-RPC surface over HTTP.
type Client struct {
	url        string
	authToken  string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Config carries the client construction parameters. AuthToken is required
// only for the guarded vault methods; read methods work without it.
type Config struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

// Option mutates the client during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New constructs a client targeting the supplied JSON-RPC URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("zusd: rpc url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		url:        url,
		authToken:  strings.TrimSpace(cfg.AuthToken),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// RPCError is the JSON-RPC error payload returned by the daemon, annotated
// with the HTTP status it arrived under.
type RPCError struct {
	Code       int
	Message    string
	Data       json.RawMessage
	HTTPStatus int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcErrorPayload struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *rpcErrorPayload `json:"error"`
}

// Call performs a raw JSON-RPC call. out may be nil to discard the result, or
// a *json.RawMessage to capture it verbatim.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("zusd: client not configured")
	}
	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("zusd: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("zusd: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zusd: perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("zusd: read response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("zusd: decode response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return &RPCError{
			Code:       rpcResp.Error.Code,
			Message:    rpcResp.Error.Message,
			Data:       rpcResp.Error.Data,
			HTTPStatus: resp.StatusCode,
		}
	}
	if resp.StatusCode >= 300 {
		return &RPCError{Message: http.StatusText(resp.StatusCode), HTTPStatus: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("zusd: empty result for %s", method)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("zusd: decode %s result: %w", method, err)
	}
	return nil
}
