package routes

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestAuditActivityForwardsAddressAndLimit(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"audit_recentActivity": `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","events":[{"sequence":7,"type":"mint","account":"zusd1qqqq","amount":"100","healthFactor":"2500000000000000000","receipt":"0x01","occurredAt":"2026-03-01T12:00:00Z"}]}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/audit/activity/zusd1qqqq?limit=5", ScopeAuditRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", res.Code, res.Body.String())
	}
	call := fix.daemon.lastCall(t)
	if call.Method != "audit_recentActivity" {
		t.Fatalf("unexpected forwarded method %q", call.Method)
	}
	params := fix.daemon.paramObject(t)
	if params["address"] != "zusd1qqqq" || params["limit"] != float64(5) {
		t.Fatalf("unexpected forwarded params %v", params)
	}

	var payload struct {
		Address string `json:"address"`
		Events  []struct {
			Sequence uint64 `json:"sequence"`
			Type     string `json:"type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Address != "zusd1qqqq" || len(payload.Events) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Events[0].Sequence != 7 || payload.Events[0].Type != "mint" {
		t.Fatalf("unexpected event %+v", payload.Events[0])
	}
}

func TestAuditActivityRejectsBadLimit(t *testing.T) {
	fix := newGatewayFixture(t, nil, nil)

	for _, limit := range []string{"-1", "abc"} {
		res := fix.do(t, http.MethodGet, "/v1/audit/activity/zusd1qqqq?limit="+limit, ScopeAuditRead, "")
		if res.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", limit, res.Code)
		}
	}
	if fix.daemon.callCount() != 0 {
		t.Fatalf("expected bad limits to be rejected before the daemon")
	}
}

func TestAuditActivityNormalizesEmptyEvents(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"audit_recentActivity": `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","events":null}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/audit/activity/zusd1qqqq", ScopeAuditRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty events array, got %s", res.Body.String())
	}
}

func TestAuditLiquidationsForwardWindow(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"audit_liquidations": `{"jsonrpc":"2.0","id":1,"result":{"liquidations":[{"sequence":9,"type":"liquidate","account":"zusd1target","counterparty":"zusd1keeper","asset":"WETH","debtCovered":"5000","collateralSeized":"2894736842105263157","occurredAt":"2026-03-01T13:00:00Z","verified":true}]}}`,
	}, nil)

	res := fix.do(t, http.MethodGet,
		"/v1/audit/liquidations?start=2026-03-01T12:00:00Z&end=2026-03-02T00:00:00Z", ScopeAuditRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", res.Code, res.Body.String())
	}
	params := fix.daemon.paramObject(t)
	if params["start"] != "2026-03-01T12:00:00Z" || params["end"] != "2026-03-02T00:00:00Z" {
		t.Fatalf("unexpected forwarded window %v", params)
	}

	var payload struct {
		Liquidations []struct {
			Sequence uint64 `json:"sequence"`
			Verified bool   `json:"verified"`
		} `json:"liquidations"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Liquidations) != 1 || !payload.Liquidations[0].Verified {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAuditLiquidationsOpenWindowOmitsBounds(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"audit_liquidations": `{"jsonrpc":"2.0","id":1,"result":{"liquidations":[]}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/audit/liquidations", ScopeAuditRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", res.Code)
	}
	params := fix.daemon.paramObject(t)
	if _, ok := params["start"]; ok {
		t.Fatalf("expected open window to omit start, got %v", params)
	}
	if _, ok := params["end"]; ok {
		t.Fatalf("expected open window to omit end, got %v", params)
	}
}

func TestAuditLiquidationsRejectsBadTimestamp(t *testing.T) {
	fix := newGatewayFixture(t, nil, nil)

	res := fix.do(t, http.MethodGet, "/v1/audit/liquidations?start=yesterday", ScopeAuditRead, "")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "invalid start timestamp") {
		t.Fatalf("unexpected error body %s", res.Body.String())
	}
	if fix.daemon.callCount() != 0 {
		t.Fatalf("expected bad timestamps to be rejected before the daemon")
	}
}

func TestAuditVerifyForwardsSequence(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"audit_verifyLiquidation": `{"jsonrpc":"2.0","id":1,"result":{"sequence":9,"found":true,"verified":true}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/audit/liquidations/9/verify", ScopeAuditRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", res.Code, res.Body.String())
	}
	if got := fix.daemon.lastCall(t).Method; got != "audit_verifyLiquidation" {
		t.Fatalf("unexpected forwarded method %q", got)
	}
	params := fix.daemon.paramObject(t)
	if params["sequence"] != float64(9) {
		t.Fatalf("unexpected forwarded params %v", params)
	}

	var result struct {
		Sequence uint64 `json:"sequence"`
		Found    bool   `json:"found"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Sequence != 9 || !result.Found || !result.Verified {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAuditVerifyRejectsBadSequence(t *testing.T) {
	fix := newGatewayFixture(t, nil, nil)

	for _, sequence := range []string{"abc", "0", "-4"} {
		res := fix.do(t, http.MethodGet, "/v1/audit/liquidations/"+sequence+"/verify", ScopeAuditRead, "")
		if res.Code != http.StatusBadRequest {
			t.Fatalf("sequence %q: expected 400, got %d", sequence, res.Code)
		}
	}
	if fix.daemon.callCount() != 0 {
		t.Fatalf("expected bad sequences to be rejected before the daemon")
	}
}

func TestAuditRequiresReadScope(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"audit_recentActivity": `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","events":[]}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/audit/activity/zusd1qqqq", "", "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	res = fix.do(t, http.MethodGet, "/v1/audit/activity/zusd1qqqq", ScopeVaultWrite, "")
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for vault scope on audit route, got %d", res.Code)
	}
	res = fix.do(t, http.MethodGet, "/v1/audit/activity/zusd1qqqq", ScopeAuditRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected audit scope to pass, got %d", res.Code)
	}
}
