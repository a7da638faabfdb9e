package zusd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type capturedCall struct {
	method  string
	path    string
	auth    string
	body    map[string]interface{}
	replies []string
}

func newCaptureServer(t *testing.T, captured *capturedCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request: %v", err)
		}
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		captured.body = map[string]interface{}{}
		if err := json.Unmarshal(payload, &captured.body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reply := `{"jsonrpc":"2.0","id":1,"result":{}}`
		if len(captured.replies) > 0 {
			reply = captured.replies[0]
			captured.replies = captured.replies[1:]
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
}

func TestDepositCollateralBuildsEnvelope(t *testing.T) {
	captured := &capturedCall{replies: []string{`{"jsonrpc":"2.0","id":1,"result":{"txHash":"0xabc"}}`}}
	server := newCaptureServer(t, captured)
	defer server.Close()

	client, err := New(Config{URL: server.URL, AuthToken: "daemon-token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	receipt, err := client.DepositCollateral(context.Background(), "zusd1qqqq", "WETH", "1000")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if receipt.TxHash != "0xabc" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if captured.method != http.MethodPost || captured.path != "/" {
		t.Fatalf("unexpected request %s %s", captured.method, captured.path)
	}
	if captured.auth != "Bearer daemon-token" {
		t.Fatalf("unexpected auth header %q", captured.auth)
	}
	if captured.body["jsonrpc"] != "2.0" {
		t.Fatalf("missing jsonrpc version: %v", captured.body)
	}
	if captured.body["method"] != "vault_depositCollateral" {
		t.Fatalf("unexpected method %v", captured.body["method"])
	}
	params, ok := captured.body["params"].([]interface{})
	if !ok || len(params) != 1 {
		t.Fatalf("expected single parameter object, got %v", captured.body["params"])
	}
	object, ok := params[0].(map[string]interface{})
	if !ok {
		t.Fatalf("parameter is not an object: %v", params[0])
	}
	if object["from"] != "zusd1qqqq" || object["asset"] != "WETH" || object["amount"] != "1000" {
		t.Fatalf("unexpected params %v", object)
	}
}

func TestListAssetsOmitsParams(t *testing.T) {
	captured := &capturedCall{replies: []string{`{"jsonrpc":"2.0","id":1,"result":{"assets":[{"symbol":"WETH","priceUsd":"2000"}]}}`}}
	server := newCaptureServer(t, captured)
	defer server.Close()

	client, err := New(Config{URL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	assets, err := client.ListAssets(context.Background())
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "WETH" || assets[0].PriceUsd != "2000" {
		t.Fatalf("unexpected assets %v", assets)
	}
	if _, present := captured.body["params"]; present {
		t.Fatalf("expected params to be omitted, got %v", captured.body["params"])
	}
	if captured.auth != "" {
		t.Fatalf("expected no auth header for unauthenticated client, got %q", captured.auth)
	}
}

func TestCallSurfacesRPCErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"amount must be positive","data":{"healthFactor":"900"}}}`))
	}))
	defer server.Close()

	client, err := New(Config{URL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.MintZUSD(context.Background(), "zusd1qqqq", "-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32602 || rpcErr.Message != "amount must be positive" {
		t.Fatalf("unexpected error payload: %+v", rpcErr)
	}
	if rpcErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected HTTP status to be carried, got %d", rpcErr.HTTPStatus)
	}
	var data map[string]string
	if err := json.Unmarshal(rpcErr.Data, &data); err != nil || data["healthFactor"] != "900" {
		t.Fatalf("expected error data to round-trip, got %s (%v)", rpcErr.Data, err)
	}
}

func TestCallRejectsUndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream error"))
	}))
	defer server.Close()

	client, err := New(Config{URL: server.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Call(context.Background(), "vault_listAssets", nil, nil); err == nil {
		t.Fatalf("expected decode failure for non-JSON body")
	}
}

func TestLiquidationsFormatsWindow(t *testing.T) {
	captured := &capturedCall{replies: []string{`{"jsonrpc":"2.0","id":1,"result":{"liquidations":[]}}`}}
	server := newCaptureServer(t, captured)
	defer server.Close()

	client, err := New(Config{URL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	if _, err := client.Liquidations(context.Background(), start, time.Time{}); err != nil {
		t.Fatalf("liquidations: %v", err)
	}
	params := captured.body["params"].([]interface{})
	object := params[0].(map[string]interface{})
	if object["start"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected start %v", object["start"])
	}
	if _, present := object["end"]; present {
		t.Fatalf("expected open end to be omitted, got %v", object["end"])
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{URL: "   "}); err == nil {
		t.Fatalf("expected error for blank url")
	}
}
