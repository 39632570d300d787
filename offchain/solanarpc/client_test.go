package solanarpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func rpcServer(t *testing.T, wantMethod string, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != wantMethod {
			t.Errorf("method=%q, want %q", req.Method, wantMethod)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LatestBlockhash(t *testing.T) {
	srv := rpcServer(t, "getLatestBlockhash", `{"jsonrpc":"2.0","id":"1","result":{"context":{"slot":1},"value":{"blockhash":"11111111111111111111111111111111","lastValidBlockHeight":4242}}}`)

	c := New(srv.URL, nil)
	got, err := c.LatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("LatestBlockhash: %v", err)
	}
	if got.LastValidBlockHeight != 4242 {
		t.Fatalf("lastValidBlockHeight=%d, want 4242", got.LastValidBlockHeight)
	}
	if !got.Blockhash.IsZero() {
		t.Fatalf("blockhash=%x, want zero", got.Blockhash)
	}
}

func TestClient_BalanceLamports(t *testing.T) {
	srv := rpcServer(t, "getBalance", `{"jsonrpc":"2.0","id":"1","result":{"context":{"slot":1},"value":123456}}`)

	c := New(srv.URL, nil)
	got, err := c.BalanceLamports(context.Background(), "11111111111111111111111111111111")
	if err != nil {
		t.Fatalf("BalanceLamports: %v", err)
	}
	if got != 123456 {
		t.Fatalf("balance=%d", got)
	}
	if _, err := c.BalanceLamports(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty pubkey")
	}
}

func TestClient_SimulateTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != "simulateTransaction" {
			t.Errorf("method=%q", req.Method)
		}
		cfg, ok := req.Params[1].(map[string]any)
		if !ok {
			t.Errorf("params[1] type=%T", req.Params[1])
			return
		}
		if cfg["sigVerify"] != false || cfg["encoding"] != "base64" {
			t.Errorf("cfg=%v", cfg)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"context":{"slot":9},"value":{"err":{"InstructionError":[0,{"Custom":1}]},"logs":["Program 11111111111111111111111111111111 invoke [1]","Transfer: insufficient lamports 10, need 20"],"unitsConsumed":150}}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, nil)
	res, err := c.SimulateTransaction(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("SimulateTransaction: %v", err)
	}
	if !res.Failed() {
		t.Fatalf("expected failed simulation")
	}
	if len(res.Logs) != 2 || res.UnitsConsumed != 150 {
		t.Fatalf("res=%+v", res)
	}

	ok := SimulationResult{Err: json.RawMessage("null")}
	if ok.Failed() {
		t.Fatalf("null err must not be a failure")
	}
}

func TestClient_SignatureStatuses(t *testing.T) {
	srv := rpcServer(t, "getSignatureStatuses", `{"jsonrpc":"2.0","id":"1","result":{"context":{"slot":5},"value":[{"slot":5,"confirmations":null,"err":null,"confirmationStatus":"finalized"},null]}}`)

	c := New(srv.URL, nil)
	got, err := c.SignatureStatuses(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("SignatureStatuses: %v", err)
	}
	if got[0] == nil || !got[0].Confirmed() || got[0].Failed() {
		t.Fatalf("status[0]=%+v", got[0])
	}
	if got[1] != nil {
		t.Fatalf("status[1]=%+v, want nil", got[1])
	}
}

func TestClient_RPCErrorCarriesCodeAndLogs(t *testing.T) {
	srv := rpcServer(t, "sendTransaction", `{"jsonrpc":"2.0","id":"1","error":{"code":-32002,"message":"Transaction simulation failed: Blockhash not found","data":{"logs":["log a"]}}}`)

	c := New(srv.URL, nil)
	_, err := c.SendTransaction(context.Background(), []byte{1}, false)
	if !errors.Is(err, ErrRPCError) {
		t.Fatalf("err=%v, want ErrRPCError", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err=%T, want *RPCError", err)
	}
	if rpcErr.Code != CodeBlockhashNotFound {
		t.Fatalf("code=%d", rpcErr.Code)
	}
	if logs := rpcErr.Logs(); len(logs) != 1 || logs[0] != "log a" {
		t.Fatalf("logs=%v", logs)
	}
	if rpcErr.RateLimited() {
		t.Fatalf("not a rate limit")
	}
}

func TestClient_AccountNotFound(t *testing.T) {
	srv := rpcServer(t, "getAccountInfo", `{"jsonrpc":"2.0","id":"1","result":{"context":{"slot":5},"value":null}}`)

	c := New(srv.URL, nil)
	_, err := c.AccountDataBase64(context.Background(), "11111111111111111111111111111111")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err=%v, want ErrAccountNotFound", err)
	}
}

func TestClient_RetriesRateLimitedResponses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":77}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, nil)
	got, err := c.BlockHeight(context.Background())
	if err != nil {
		t.Fatalf("BlockHeight: %v", err)
	}
	if got != 77 || calls.Load() != 2 {
		t.Fatalf("height=%d calls=%d", got, calls.Load())
	}
}

func TestClient_MissingURL(t *testing.T) {
	c := New("  ", nil)
	if _, err := c.BlockHeight(context.Background()); !errors.Is(err, ErrMissingRPCURL) {
		t.Fatalf("err=%v, want ErrMissingRPCURL", err)
	}
}

func TestClusterURL(t *testing.T) {
	if u, err := ClusterURL("devnet"); err != nil || u != "https://api.devnet.solana.com" {
		t.Fatalf("devnet: %q %v", u, err)
	}
	if _, err := ClusterURL("localnet-x"); err == nil {
		t.Fatalf("expected error for unknown cluster")
	}
}
