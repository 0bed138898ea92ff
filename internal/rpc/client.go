// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is the interface for JSON-RPC communication with one endpoint.
// The call shapes cover the engine's needs: liveness probes, sequence
// number queries, raw submission, and confirmation polling.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// ChainID returns the endpoint's chain identifier.
	ChainID(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the latest block number. Used as the liveness probe.
	BlockNumber(ctx context.Context) (uint64, error)

	// SendRawTransaction submits a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (string, error)

	// PendingNonceAt returns the pending-inclusive sequence number for an address.
	PendingNonceAt(ctx context.Context, address string) (uint64, error)

	// ConfirmedNonceAt returns the confirmed sequence number, bypassing the mempool.
	ConfirmedNonceAt(ctx context.Context, address string) (uint64, error)

	// GasPrice returns the node's suggested gas price.
	GasPrice(ctx context.Context) (uint64, error)

	// Balance returns the balance for an address at the latest block.
	Balance(ctx context.Context, address string) (*big.Int, error)

	// TransactionReceipt returns the receipt for a transaction,
	// or nil if it is not yet included.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// URL returns the endpoint URL this client talks to.
	URL() string
}

// Receipt is the subset of a transaction receipt the engine observes.
type Receipt struct {
	Status            uint64 `json:"status"` // 1 = success, 0 = reverted
	GasUsed           uint64 `json:"gasUsed"`
	BlockNumber       uint64 `json:"blockNumber"`
	EffectiveGasPrice uint64 `json:"effectiveGasPrice"`
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
// The 2s timeout tolerates slow responses under load while still detecting
// failures quickly; submission-level retry is handled by the submitter.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        2000,
		MaxIdleConnsPerHost: 1000,
		MaxConnsPerHost:     1000, // must cover worker pool concurrency
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   false,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// URL returns the endpoint URL.
func (c *HTTPClient) URL() string {
	return c.url
}

// Call makes a JSON-RPC call with retry logic for transient HTTP failures.
// RPC-level errors (application errors) are returned without retrying here;
// the submitter owns that policy.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// 429/502/503/504 are retryable; use Retry-After when present.
		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code before parsing the body
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific (application-level) error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	_, ok := err.(*RPCError)
	return ok
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	if httpErr, ok := err.(*HTTPStatusError); ok {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	if httpErr, ok := err.(*HTTPStatusError); ok && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// ChainID returns the endpoint's chain identifier.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return nil, err
	}

	var idHex string
	if err := json.Unmarshal(result, &idHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain id: %w", err)
	}

	id, err := hexutil.DecodeBig(idHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chain id: %w", err)
	}
	return id, nil
}

// BlockNumber returns the latest block number.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal block number: %w", err)
	}

	return hexutil.DecodeUint64(blockHex)
}

// SendRawTransaction submits a signed transaction and returns its hash.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// PendingNonceAt returns the sequence number including mempool transactions.
// Using "pending" matters under load where many transactions are in flight
// but not yet mined.
func (c *HTTPClient) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	return c.nonceAt(ctx, address, "pending")
}

// ConfirmedNonceAt returns the confirmed sequence number from chain state.
// Use this when the true chain view is needed, e.g. after drift recovery.
func (c *HTTPClient) ConfirmedNonceAt(ctx context.Context, address string) (uint64, error) {
	return c.nonceAt(ctx, address, "latest")
}

func (c *HTTPClient) nonceAt(ctx context.Context, address, block string) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []interface{}{address, block})
	if err != nil {
		return 0, err
	}

	var nonceHex string
	if err := json.Unmarshal(result, &nonceHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal nonce: %w", err)
	}

	return hexutil.DecodeUint64(nonceHex)
}

// GasPrice returns the current gas price from the node.
func (c *HTTPClient) GasPrice(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return 0, err
	}

	var gasPriceHex string
	if err := json.Unmarshal(result, &gasPriceHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal gas price: %w", err)
	}

	return hexutil.DecodeUint64(gasPriceHex)
}

// Balance returns the balance for an address at the latest block.
func (c *HTTPClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, err
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance: %w", err)
	}

	return hexutil.DecodeBig(balanceHex)
}

// TransactionReceipt returns the receipt for a transaction, or nil if the
// transaction is not yet included in a block.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}

	if string(result) == "null" {
		return nil, nil // not found yet
	}

	var raw struct {
		Status            string `json:"status"`
		GasUsed           string `json:"gasUsed"`
		BlockNumber       string `json:"blockNumber"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, _ := hexutil.DecodeUint64(raw.Status)
	gasUsed, _ := hexutil.DecodeUint64(raw.GasUsed)
	blockNumber, _ := hexutil.DecodeUint64(raw.BlockNumber)
	effectiveGasPrice, _ := hexutil.DecodeUint64(raw.EffectiveGasPrice)

	return &Receipt{
		Status:            status,
		GasUsed:           gasUsed,
		BlockNumber:       blockNumber,
		EffectiveGasPrice: effectiveGasPrice,
	}, nil
}
