package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
)

var (
	ErrMissingRPCURL   = errors.New("missing rpc url")
	ErrRPCError        = errors.New("solana rpc error")
	ErrAccountNotFound = errors.New("account not found")
)

// JSON-RPC error codes returned by Solana nodes that callers branch on.
const (
	CodeBlockhashNotFound        = -32002 // also used for any preflight simulation failure
	CodeNodeUnhealthy            = -32005
	CodeTransactionPrecompile    = -32003
	CodeMinContextSlotNotReached = -32016
	CodeRateLimited              = -32429
)

const (
	ClusterDevnet  = "devnet"
	ClusterTestnet = "testnet"
	ClusterMainnet = "mainnet-beta"
)

type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrRPCError.Error(), e.Code, e.Message)
}

func (e *RPCError) Unwrap() error { return ErrRPCError }

// Logs returns program logs attached to preflight failures, if any.
func (e *RPCError) Logs() []string {
	if len(e.Data) == 0 {
		return nil
	}
	var data struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil
	}
	return data.Logs
}

func (e *RPCError) RateLimited() bool {
	return isRateLimitedRPCError(e.Code, e.Message)
}

type Client struct {
	rpcURL string
	http   *http.Client
}

func New(rpcURL string, httpClient *http.Client) *Client {
	rpcURL = strings.TrimSpace(rpcURL)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		rpcURL: rpcURL,
		http:   httpClient,
	}
}

// ClusterURL returns the public RPC endpoint for a cluster name.
func ClusterURL(cluster string) (string, error) {
	switch strings.TrimSpace(cluster) {
	case ClusterDevnet:
		return "https://api.devnet.solana.com", nil
	case ClusterTestnet:
		return "https://api.testnet.solana.com", nil
	case ClusterMainnet, "mainnet":
		return "https://api.mainnet-beta.solana.com", nil
	default:
		return "", fmt.Errorf("unsupported cluster: %q", cluster)
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func isRateLimitedRPCError(code int, message string) bool {
	if code == 429 || code == CodeRateLimited {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(message))
	return strings.Contains(msg, "rate") && strings.Contains(msg, "limit")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) rpcCall(ctx context.Context, method string, params any, out any) error {
	if c == nil {
		return errors.New("nil rpc client")
	}
	if strings.TrimSpace(c.rpcURL) == "" {
		return ErrMissingRPCURL
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "1",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	backoff := 1 * time.Second
	maxBackoff := 10 * time.Second
	maxAttempts := 5

	retry := func(attempt int) (bool, error) {
		if attempt >= maxAttempts {
			return false, nil
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return false, err
		}
		backoff = min(backoff*2, maxBackoff)
		return true, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &RPCError{Code: http.StatusTooManyRequests, Message: "too many requests"}
			again, err := retry(attempt)
			if err != nil {
				return err
			}
			if again {
				continue
			}
			return lastErr
		}

		var rr rpcResponse
		if err := json.Unmarshal(raw, &rr); err != nil {
			lastErr = fmt.Errorf("decode rpc response (http status=%d): %w", resp.StatusCode, err)
			again, err := retry(attempt)
			if err != nil {
				return err
			}
			if again {
				continue
			}
			return lastErr
		}
		if rr.Error != nil {
			lastErr = &RPCError{Code: rr.Error.Code, Message: rr.Error.Message, Data: rr.Error.Data}
			if isRateLimitedRPCError(rr.Error.Code, rr.Error.Message) {
				again, err := retry(attempt)
				if err != nil {
					return err
				}
				if again {
					continue
				}
			}
			return lastErr
		}
		if out == nil {
			return nil
		}
		if len(rr.Result) == 0 {
			return fmt.Errorf("%w: empty result", ErrRPCError)
		}
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("%w: no response", ErrRPCError)
}

type LatestBlockhash struct {
	Blockhash            solana.Blockhash
	LastValidBlockHeight uint64
}

func (c *Client) LatestBlockhash(ctx context.Context) (LatestBlockhash, error) {
	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	// Use finalized to avoid "Blockhash not found" when talking to load-balanced public RPCs.
	if err := c.rpcCall(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": "finalized"}}, &resp); err != nil {
		return LatestBlockhash{}, err
	}
	bh, err := solana.ParseBlockhash(resp.Value.Blockhash)
	if err != nil {
		return LatestBlockhash{}, fmt.Errorf("invalid blockhash: %w", err)
	}
	return LatestBlockhash{
		Blockhash:            bh,
		LastValidBlockHeight: resp.Value.LastValidBlockHeight,
	}, nil
}

func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var resp uint64
	if err := c.rpcCall(ctx, "getBlockHeight", []any{map[string]any{"commitment": "confirmed"}}, &resp); err != nil {
		return 0, err
	}
	return resp, nil
}

func (c *Client) BalanceLamports(ctx context.Context, pubkey string) (uint64, error) {
	pubkey = strings.TrimSpace(pubkey)
	if pubkey == "" {
		return 0, errors.New("pubkey required")
	}
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.rpcCall(ctx, "getBalance", []any{pubkey, map[string]any{"commitment": "confirmed"}}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (c *Client) AccountDataBase64(ctx context.Context, pubkey string) ([]byte, error) {
	var resp struct {
		Value *struct {
			Data []any `json:"data"`
		} `json:"value"`
	}
	params := []any{
		pubkey,
		map[string]any{
			"encoding":   "base64",
			"commitment": "confirmed",
		},
	}
	if err := c.rpcCall(ctx, "getAccountInfo", params, &resp); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, pubkey)
	}
	if len(resp.Value.Data) < 1 {
		return nil, errors.New("account missing data")
	}
	s, ok := resp.Value.Data[0].(string)
	if !ok {
		return nil, errors.New("unexpected account data encoding")
	}
	return base64.StdEncoding.DecodeString(s)
}

type SimulationResult struct {
	// Err is the transaction error object reported by the node; nil on success.
	Err           json.RawMessage
	Logs          []string
	UnitsConsumed uint64
}

func (r SimulationResult) Failed() bool {
	s := strings.TrimSpace(string(r.Err))
	return s != "" && s != "null"
}

// SimulateTransaction dry-runs tx without signature verification, so an
// unsigned transaction is acceptable.
func (c *Client) SimulateTransaction(ctx context.Context, tx []byte) (SimulationResult, error) {
	if len(tx) == 0 {
		return SimulationResult{}, errors.New("empty tx")
	}
	var resp struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	}
	params := []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{
			"encoding":               "base64",
			"sigVerify":              false,
			"replaceRecentBlockhash": false,
			"commitment":             "confirmed",
		},
	}
	if err := c.rpcCall(ctx, "simulateTransaction", params, &resp); err != nil {
		return SimulationResult{}, err
	}
	return SimulationResult{
		Err:           resp.Value.Err,
		Logs:          resp.Value.Logs,
		UnitsConsumed: resp.Value.UnitsConsumed,
	}, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx []byte, skipPreflight bool) (string, error) {
	if len(tx) == 0 {
		return "", errors.New("empty tx")
	}
	b64 := base64.StdEncoding.EncodeToString(tx)
	var resp string
	params := []any{
		b64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       skipPreflight,
			"preflightCommitment": "confirmed",
		},
	}
	if err := c.rpcCall(ctx, "sendTransaction", params, &resp); err != nil {
		return "", err
	}
	return resp, nil
}

type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

func (s *SignatureStatus) Failed() bool {
	e := strings.TrimSpace(string(s.Err))
	return e != "" && e != "null"
}

func (s *SignatureStatus) Confirmed() bool {
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// SignatureStatuses returns one entry per signature; unknown signatures are nil.
func (c *Client) SignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	if len(signatures) == 0 {
		return nil, errors.New("signatures required")
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{
		signatures,
		map[string]any{"searchTransactionHistory": false},
	}
	if err := c.rpcCall(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Value) != len(signatures) {
		return nil, fmt.Errorf("%w: got %d statuses for %d signatures", ErrRPCError, len(resp.Value), len(signatures))
	}
	return resp.Value, nil
}
