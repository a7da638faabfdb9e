package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestServeRequiresTLSConfig(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	err = server.Serve(listener)
	if err == nil || !strings.Contains(err.Error(), "TLS is required") {
		t.Fatalf("expected TLS requirement error, got %v", err)
	}
}

func TestServePlaintextRequiresLoopback(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{AllowInsecure: true})
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	err = server.Serve(listener)
	if err == nil || !strings.Contains(err.Error(), "loopback") {
		t.Fatalf("expected loopback restriction error, got %v", err)
	}
}

func TestServeRejectsNilListener(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{AllowInsecure: true})
	if err := server.Serve(nil); err == nil || !strings.Contains(err.Error(), "listener required") {
		t.Fatalf("expected listener error, got %v", err)
	}
}

func TestServeInsecureLoopbackServesHealthz(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{AllowInsecure: true})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(listener)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		server.serverMu.Lock()
		running := server.httpServer != nil
		server.serverMu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("expected ErrServerClosed, got %v", err)
	}
}

func TestClientSourceHonoursTrustedProxiesOnly(t *testing.T) {
	cases := []struct {
		name       string
		cfg        ServerConfig
		remoteAddr string
		forwarded  string
		want       string
	}{
		{
			name:       "direct peer",
			remoteAddr: "203.0.113.7:9000",
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted peer ignores header",
			remoteAddr: "203.0.113.7:9000",
			forwarded:  "198.51.100.9",
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy uses first hop",
			cfg:        ServerConfig{TrustedProxies: []string{"10.0.0.1"}},
			remoteAddr: "10.0.0.1:443",
			forwarded:  "198.51.100.9, 10.0.0.1",
			want:       "198.51.100.9",
		},
		{
			name:       "trusted proxy canonicalises host port",
			cfg:        ServerConfig{TrustedProxies: []string{"10.0.0.1"}},
			remoteAddr: "10.0.0.1:443",
			forwarded:  " 198.51.100.9:443 , 10.0.0.1",
			want:       "198.51.100.9",
		},
		{
			name:       "trusted proxy with empty header",
			cfg:        ServerConfig{TrustedProxies: []string{"10.0.0.1"}},
			remoteAddr: "10.0.0.1:443",
			want:       "10.0.0.1",
		},
		{
			name:       "oversized chain falls back to peer",
			cfg:        ServerConfig{TrustedProxies: []string{"10.0.0.1"}},
			remoteAddr: "10.0.0.1:443",
			forwarded:  strings.Repeat("198.51.100.9,", maxForwardedForAddrs) + "198.51.100.9",
			want:       "10.0.0.1",
		},
		{
			name:       "trust all proxies flag",
			cfg:        ServerConfig{TrustProxyHeaders: true},
			remoteAddr: "203.0.113.7:9000",
			forwarded:  "198.51.100.9",
			want:       "198.51.100.9",
		},
		{
			name:       "peer without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(nil, nil, tc.cfg)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := server.clientSource(req); got != tc.want {
				t.Fatalf("expected source %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAllowSourceEnforcesQuota(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{RequestsPerMinute: 3})
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !server.allowSource("203.0.113.7", base) {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if server.allowSource("203.0.113.7", base) {
		t.Fatal("fourth request in the epoch should be throttled")
	}
	// Other clients hold independent budgets.
	if !server.allowSource("203.0.113.8", base) {
		t.Fatal("unrelated client should not share the exhausted budget")
	}
	// A new epoch resets the count.
	if !server.allowSource("203.0.113.7", base.Add(61*time.Second)) {
		t.Fatal("request in the next epoch should pass")
	}
}

func TestAllowSourceNormalisesBlankSources(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{RequestsPerMinute: 3})
	base := time.Unix(1_700_000_000, 0)

	if !server.allowSource("", base) || !server.allowSource("   ", base) || !server.allowSource("unknown", base) {
		t.Fatal("first three requests should pass")
	}
	if server.allowSource("", base) {
		t.Fatal("blank sources must share the unknown bucket")
	}
}

func TestAllowSourceEvictsStaleEntries(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{})
	base := time.Unix(1_700_000_000, 0)

	server.allowSource("203.0.113.7", base)
	server.allowSource("203.0.113.8", base.Add(rateLimiterStaleAfter+time.Minute))

	server.mu.Lock()
	defer server.mu.Unlock()
	if _, ok := server.rateLimiters["203.0.113.7"]; ok {
		t.Fatal("stale limiter entry should have been evicted")
	}
	if _, ok := server.rateLimiters["203.0.113.8"]; !ok {
		t.Fatal("fresh limiter entry should remain")
	}
}

func TestAllowSourceEvictsOldestAtCapacity(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{})
	base := time.Unix(1_700_000_000, 0)

	server.mu.Lock()
	for i := 0; i < rateLimiterMaxEntries; i++ {
		source := fmt.Sprintf("10.%d.%d.%d", i/65536, (i/256)%256, i%256)
		server.rateLimiters[source] = &rateLimiter{lastSeen: base.Add(time.Duration(i) * time.Millisecond)}
	}
	server.mu.Unlock()

	if !server.allowSource("198.51.100.7", base.Add(5*time.Second)) {
		t.Fatal("new client should be admitted")
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.rateLimiters) != rateLimiterMaxEntries {
		t.Fatalf("expected map capped at %d entries, got %d", rateLimiterMaxEntries, len(server.rateLimiters))
	}
	if _, ok := server.rateLimiters["10.0.0.0"]; ok {
		t.Fatal("oldest limiter entry should have been evicted")
	}
	if _, ok := server.rateLimiters["198.51.100.7"]; !ok {
		t.Fatal("new limiter entry should be present")
	}
}

func TestRequireAuth(t *testing.T) {
	withHeader := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if value != "" {
			req.Header.Set("Authorization", value)
		}
		return req
	}

	unconfigured := NewServer(nil, nil, ServerConfig{})
	unconfigured.authToken = ""
	if err := unconfigured.requireAuth(withHeader("Bearer anything")); err == nil || !strings.Contains(err.Message, "not configured") {
		t.Fatalf("expected unconfigured token error, got %+v", err)
	}

	server := NewServer(nil, nil, ServerConfig{})
	server.authToken = "test-secret"

	cases := []struct {
		name   string
		header string
		expect string
	}{
		{"missing header", "", "missing Authorization header"},
		{"wrong scheme", "Basic dXNlcg==", "Bearer scheme"},
		{"empty token", "Bearer   ", "missing bearer token"},
		{"wrong token", "Bearer nope", "invalid RPC credentials"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := server.requireAuth(withHeader(tc.header))
			if err == nil || !strings.Contains(err.Message, tc.expect) {
				t.Fatalf("expected %q error, got %+v", tc.expect, err)
			}
		})
	}

	if err := server.requireAuth(withHeader("Bearer test-secret")); err != nil {
		t.Fatalf("expected valid credentials to pass, got %+v", err)
	}
}

func postRaw(t *testing.T, server *Server, body []byte) (int, rpcReply) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.handle(rec, req)
	var reply rpcReply
	if len(rec.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, reply
}

func TestHandleRejectsMalformedEnvelopes(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{})

	status, reply := postRaw(t, server, nil)
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid-request for empty body, got %d %+v", status, reply.Error)
	}

	status, reply = postRaw(t, server, []byte("{not json"))
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %d %+v", status, reply.Error)
	}

	status, reply = postRaw(t, server, []byte(`{"jsonrpc":"1.0","method":"vault_getAccount","id":1}`))
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeInvalidRequest {
		t.Fatalf("expected version rejection, got %d %+v", status, reply.Error)
	}

	status, reply = postRaw(t, server, []byte(`{"jsonrpc":"2.0","id":1}`))
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeInvalidRequest {
		t.Fatalf("expected missing-method rejection, got %d %+v", status, reply.Error)
	}

	status, reply = postRaw(t, server, []byte(`{"jsonrpc":"2.0","method":"vault_noSuchMethod","id":1}`))
	if status != http.StatusNotFound || reply.Error == nil || reply.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %d %+v", status, reply.Error)
	}
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	server := NewServer(nil, nil, ServerConfig{})
	body := bytes.Repeat([]byte("a"), maxRequestBytes+1)

	status, reply := postRaw(t, server, body)
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", status)
	}
	if reply.Error == nil || reply.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %+v", reply.Error)
	}
}
