package routes

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestVaultDepositForwardsParams(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_depositCollateral": `{"jsonrpc":"2.0","id":1,"result":{"txHash":"0xdead"}}`,
	}, nil)

	res := fix.do(t, http.MethodPost, "/v1/vault/deposit", ScopeVaultWrite,
		`{"from":"zusd1qqqq","asset":"WETH","amount":"1000000000000000000"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", res.Code, res.Body.String())
	}
	var receipt struct {
		TxHash string `json:"txHash"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if receipt.TxHash != "0xdead" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	call := fix.daemon.lastCall(t)
	if call.Method != "vault_depositCollateral" {
		t.Fatalf("unexpected forwarded method %q", call.Method)
	}
	if call.Auth != "Bearer daemon-secret" {
		t.Fatalf("expected the daemon token, got %q", call.Auth)
	}
	params := fix.daemon.paramObject(t)
	if params["from"] != "zusd1qqqq" || params["asset"] != "WETH" || params["amount"] != "1000000000000000000" {
		t.Fatalf("unexpected forwarded params %v", params)
	}
}

func TestVaultLiquidateRelaysReceipt(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_liquidate": `{"jsonrpc":"2.0","id":1,"result":{"txHash":"0xfeed","debtCovered":"5000","collateralSeized":"2894736842105263157"}}`,
	}, nil)

	res := fix.do(t, http.MethodPost, "/v1/vault/liquidate", ScopeVaultWrite,
		`{"liquidator":"zusd1keeper","target":"zusd1target","asset":"WETH","debtToCover":"5000"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", res.Code, res.Body.String())
	}
	var receipt struct {
		TxHash           string `json:"txHash"`
		DebtCovered      string `json:"debtCovered"`
		CollateralSeized string `json:"collateralSeized"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if receipt.CollateralSeized != "2894736842105263157" || receipt.DebtCovered != "5000" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	params := fix.daemon.paramObject(t)
	if params["liquidator"] != "zusd1keeper" || params["debtToCover"] != "5000" {
		t.Fatalf("unexpected forwarded params %v", params)
	}
}

func TestVaultQuoteRoutesBuildParams(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_usdValue":    `{"jsonrpc":"2.0","id":1,"result":{"asset":"WETH","amount":"5","usdValue":"10000"}}`,
		"vault_assetAmount": `{"jsonrpc":"2.0","id":1,"result":{"asset":"WETH","amount":"1","usdValue":"2000"}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/vault/assets/WETH/value?amount=5", ScopeVaultRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("usd value status %d: %s", res.Code, res.Body.String())
	}
	params := fix.daemon.paramObject(t)
	if params["asset"] != "WETH" || params["amount"] != "5" {
		t.Fatalf("unexpected usd value params %v", params)
	}

	res = fix.do(t, http.MethodGet, "/v1/vault/assets/WETH/amount?usd=2000", ScopeVaultRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("asset amount status %d: %s", res.Code, res.Body.String())
	}
	params = fix.daemon.paramObject(t)
	if params["asset"] != "WETH" || params["usdValue"] != "2000" {
		t.Fatalf("unexpected asset amount params %v", params)
	}

	before := fix.daemon.callCount()
	res = fix.do(t, http.MethodGet, "/v1/vault/assets/WETH/value", ScopeVaultRead, "")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing amount, got %d", res.Code)
	}
	if fix.daemon.callCount() != before {
		t.Fatalf("expected missing amount to be rejected before the daemon")
	}
}

func TestVaultAccountRoutes(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_getAccount":   `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","mintedZusd":"0","collateralValueUsd":"0","healthFactor":"0"}}`,
		"vault_getPosition":  `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","collateral":[],"mintedZusd":"0","collateralValueUsd":"0","healthFactor":"0"}}`,
		"vault_healthFactor": `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","healthFactor":"115792089237316195423570985008687907853269984665640564039457584007913129639935"}}`,
		"vault_tokenBalance": `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","asset":"ZUSD","balance":"0"}}`,
	}, nil)

	cases := []struct {
		path   string
		method string
		object map[string]interface{}
	}{
		{"/v1/vault/accounts/zusd1qqqq", "vault_getAccount", map[string]interface{}{"address": "zusd1qqqq"}},
		{"/v1/vault/accounts/zusd1qqqq/position", "vault_getPosition", map[string]interface{}{"address": "zusd1qqqq"}},
		{"/v1/vault/accounts/zusd1qqqq/health", "vault_healthFactor", map[string]interface{}{"address": "zusd1qqqq"}},
		{"/v1/vault/balances/zusd1qqqq", "vault_tokenBalance", map[string]interface{}{"address": "zusd1qqqq", "asset": "ZUSD"}},
	}
	for _, tc := range cases {
		res := fix.do(t, http.MethodGet, tc.path, ScopeVaultRead, "")
		if res.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", tc.path, res.Code, res.Body.String())
		}
		call := fix.daemon.lastCall(t)
		if call.Method != tc.method {
			t.Fatalf("%s: forwarded %q, want %q", tc.path, call.Method, tc.method)
		}
		params := fix.daemon.paramObject(t)
		for key, want := range tc.object {
			if params[key] != want {
				t.Fatalf("%s: param %s = %v, want %v", tc.path, key, params[key], want)
			}
		}
	}
}

func TestVaultBalanceHonoursAssetQuery(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_tokenBalance": `{"jsonrpc":"2.0","id":1,"result":{"address":"zusd1qqqq","asset":"WETH","balance":"7"}}`,
	}, nil)

	res := fix.do(t, http.MethodGet, "/v1/vault/balances/zusd1qqqq?asset=WETH", ScopeVaultRead, "")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", res.Code)
	}
	params := fix.daemon.paramObject(t)
	if params["asset"] != "WETH" {
		t.Fatalf("expected asset override, got %v", params["asset"])
	}
}

func TestVaultRelaysRPCErrors(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_mintZusd": `!400!{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"health factor too low","data":{"healthFactor":"200000000000000000"}}}`,
	}, nil)

	res := fix.do(t, http.MethodPost, "/v1/vault/mint", ScopeVaultWrite, `{"from":"zusd1qqqq","amount":"100"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected relayed 400, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		Error string            `json:"error"`
		Data  map[string]string `json:"data"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error != "health factor too low" {
		t.Fatalf("unexpected error message %q", payload.Error)
	}
	if payload.Data["healthFactor"] != "200000000000000000" {
		t.Fatalf("expected error data to be relayed, got %v", payload.Data)
	}
}

func TestVaultRelaysPausedStatus(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_depositCollateral": `!503!{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"module paused"}}`,
	}, nil)

	res := fix.do(t, http.MethodPost, "/v1/vault/deposit", ScopeVaultWrite,
		`{"from":"zusd1qqqq","asset":"WETH","amount":"1"}`)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 passthrough, got %d", res.Code)
	}
}

func TestVaultRejectsMalformedBody(t *testing.T) {
	fix := newGatewayFixture(t, nil, nil)

	res := fix.do(t, http.MethodPost, "/v1/vault/deposit", ScopeVaultWrite, "{not json")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", res.Code)
	}
	res = fix.do(t, http.MethodPost, "/v1/vault/deposit", ScopeVaultWrite, "")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", res.Code)
	}
	if fix.daemon.callCount() != 0 {
		t.Fatalf("expected malformed bodies to be rejected before the daemon")
	}
}

func TestVaultUpstreamDownReturns502(t *testing.T) {
	fix := newGatewayFixture(t, map[string]string{
		"vault_listAssets": `{"jsonrpc":"2.0","id":1,"result":{"assets":[]}}`,
	}, nil)
	fix.daemon.server.Close()

	res := fix.do(t, http.MethodGet, "/v1/vault/assets", ScopeVaultRead, "")
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the daemon is unreachable, got %d", res.Code)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error != "upstream error" {
		t.Fatalf("unexpected error message %q", payload.Error)
	}
}
