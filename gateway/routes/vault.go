package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	sdk "zusd/sdk/zusd"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// vaultRoutes bridges the REST surface onto the daemon's vault JSON-RPC
// methods. Request and response bodies stay string-typed wei amounts; the
// daemon owns all validation beyond JSON shape.
type vaultRoutes struct {
	client  *sdk.Client
	timeout time.Duration
}

func newVaultRoutes(client *sdk.Client, timeout time.Duration) *vaultRoutes {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &vaultRoutes{client: client, timeout: timeout}
}

func (vr *vaultRoutes) mount(r chi.Router, guard scopeGuard) {
	write := guard(ScopeVaultWrite)
	read := guard(ScopeVaultRead)

	r.With(write).Post("/deposit", vr.deposit)
	r.With(write).Post("/mint", vr.mint)
	r.With(write).Post("/deposit-and-mint", vr.depositAndMint)
	r.With(write).Post("/redeem", vr.redeem)
	r.With(write).Post("/burn", vr.burn)
	r.With(write).Post("/redeem-for-zusd", vr.redeemForZusd)
	r.With(write).Post("/liquidate", vr.liquidate)
	r.With(write).Post("/price", vr.setPrice)

	r.With(read).Get("/assets", vr.assets)
	r.With(read).Get("/assets/{symbol}/value", vr.usdValue)
	r.With(read).Get("/assets/{symbol}/amount", vr.assetAmount)
	r.With(read).Get("/accounts/{address}", vr.account)
	r.With(read).Get("/accounts/{address}/position", vr.position)
	r.With(read).Get("/accounts/{address}/health", vr.health)
	r.With(read).Get("/balances/{address}", vr.balance)
}

func (vr *vaultRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := vr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

type collateralRequest struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type depositAndMintRequest struct {
	From       string `json:"from"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	MintAmount string `json:"mintAmount"`
}

type redeemForZusdRequest struct {
	From       string `json:"from"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	BurnAmount string `json:"burnAmount"`
}

type setPriceRequest struct {
	Feed     string `json:"feed"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

func (vr *vaultRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.DepositCollateral(ctx, req.From, req.Asset, req.Amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.MintZUSD(ctx, req.From, req.Amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) depositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.DepositAndMint(ctx, req.From, req.Asset, req.Amount, req.MintAmount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) redeem(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.RedeemCollateral(ctx, req.From, req.Asset, req.Amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) burn(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.BurnZUSD(ctx, req.From, req.Amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) redeemForZusd(w http.ResponseWriter, r *http.Request) {
	var req redeemForZusdRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.RedeemForZUSD(ctx, req.From, req.Asset, req.Amount, req.BurnAmount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	var req sdk.LiquidateParams
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	receipt, err := vr.client.Liquidate(ctx, req)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (vr *vaultRoutes) setPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	update, err := vr.client.SetPrice(ctx, req.Feed, req.Price, req.Decimals)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, update)
}

func (vr *vaultRoutes) assets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	assets, err := vr.client.ListAssets(ctx)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if assets == nil {
		assets = []sdk.AssetQuote{}
	}
	writeJSON(w, map[string]interface{}{"assets": assets})
}

func (vr *vaultRoutes) usdValue(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	amount := strings.TrimSpace(r.URL.Query().Get("amount"))
	if amount == "" {
		writeBadRequest(w, errors.New("amount query parameter is required"))
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	valuation, err := vr.client.USDValue(ctx, symbol, amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, valuation)
}

func (vr *vaultRoutes) assetAmount(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	usd := strings.TrimSpace(r.URL.Query().Get("usd"))
	if usd == "" {
		writeBadRequest(w, errors.New("usd query parameter is required"))
		return
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	valuation, err := vr.client.AssetAmount(ctx, symbol, usd)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, valuation)
}

func (vr *vaultRoutes) account(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	account, err := vr.client.GetAccount(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, account)
}

func (vr *vaultRoutes) position(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	position, err := vr.client.GetPosition(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, position)
}

func (vr *vaultRoutes) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	health, err := vr.client.GetHealthFactor(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, health)
}

func (vr *vaultRoutes) balance(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		asset = "ZUSD"
	}
	ctx, cancel := vr.context(r.Context())
	defer cancel()

	balance, err := vr.client.GetTokenBalance(ctx, chi.URLParam(r, "address"), asset)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, balance)
}

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	reader := io.LimitReader(r.Body, requestBodyLimit)
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSONErrorData(w, status, err, nil)
}

func writeJSONErrorData(w http.ResponseWriter, status int, err error, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	body := map[string]interface{}{"error": message}
	if len(data) > 0 {
		body["data"] = data
	}
	payload, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		replacer := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
			"\t", "\\t",
		)
		fallback := fmt.Sprintf("{\"error\":\"%s\"}", replacer.Replace(message))
		payload = []byte(fallback)
	}
	_, _ = w.Write(payload)
}

// writeUpstreamError relays the daemon's JSON-RPC error verbatim, keeping its
// HTTP status and machine-readable data. Transport failures become a 502.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var rpcErr *sdk.RPCError
	if errors.As(err, &rpcErr) {
		status := rpcErr.HTTPStatus
		if status < http.StatusBadRequest {
			status = statusFromRPCCode(rpcErr.Code)
		}
		writeJSONErrorData(w, status, errors.New(rpcErr.Message), rpcErr.Data)
		return
	}
	writeJSONError(w, http.StatusBadGateway, errors.New("upstream error"))
}

func statusFromRPCCode(code int) int {
	switch code {
	case -32700, -32600, -32602:
		return http.StatusBadRequest
	case -32601:
		return http.StatusNotFound
	case -32001:
		return http.StatusUnauthorized
	case -32020:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
