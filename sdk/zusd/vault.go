package zusd

import (
	"context"
	"time"
)

// TxReceipt is returned by every mutating vault method.
type TxReceipt struct {
	TxHash string `json:"txHash"`
}

// LiquidationReceipt extends the receipt with the amounts the engine settled.
type LiquidationReceipt struct {
	TxHash           string `json:"txHash"`
	DebtCovered      string `json:"debtCovered"`
	CollateralSeized string `json:"collateralSeized"`
}

// Account summarises a position; all numeric fields are base-10 wei strings.
type Account struct {
	Address            string `json:"address"`
	MintedZusd         string `json:"mintedZusd"`
	CollateralValueUsd string `json:"collateralValueUsd"`
	HealthFactor       string `json:"healthFactor"`
}

type CollateralRow struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usdValue"`
}

type Position struct {
	Address            string          `json:"address"`
	Collateral         []CollateralRow `json:"collateral"`
	MintedZusd         string          `json:"mintedZusd"`
	CollateralValueUsd string          `json:"collateralValueUsd"`
	HealthFactor       string          `json:"healthFactor"`
}

type HealthFactor struct {
	Address      string `json:"address"`
	HealthFactor string `json:"healthFactor"`
}

type Valuation struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usdValue"`
}

type AssetQuote struct {
	Symbol   string `json:"symbol"`
	PriceUsd string `json:"priceUsd"`
}

type assetsResult struct {
	Assets []AssetQuote `json:"assets"`
}

type TokenBalance struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type PriceUpdate struct {
	Feed     string `json:"feed"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

// LiquidateParams names the parties of a liquidation call.
type LiquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

// DepositCollateral locks collateral for the account. Amount is a base-10
// integer in the asset's smallest unit.
func (c *Client) DepositCollateral(ctx context.Context, from, asset, amount string) (TxReceipt, error) {
	var receipt TxReceipt
	params := map[string]string{"from": from, "asset": asset, "amount": amount}
	err := c.Call(ctx, "vault_depositCollateral", []interface{}{params}, &receipt)
	return receipt, err
}

// MintZUSD mints synthetic dollars against the account's collateral.
func (c *Client) MintZUSD(ctx context.Context, from, amount string) (TxReceipt, error) {
	var receipt TxReceipt
	params := map[string]string{"from": from, "amount": amount}
	err := c.Call(ctx, "vault_mintZusd", []interface{}{params}, &receipt)
	return receipt, err
}

// DepositAndMint performs both steps atomically.
func (c *Client) DepositAndMint(ctx context.Context, from, asset, amount, mintAmount string) (TxReceipt, error) {
	var receipt TxReceipt
	params := map[string]string{"from": from, "asset": asset, "amount": amount, "mintAmount": mintAmount}
	err := c.Call(ctx, "vault_depositAndMint", []interface{}{params}, &receipt)
	return receipt, err
}

// RedeemCollateral withdraws collateral, subject to the health factor check.
func (c *Client) RedeemCollateral(ctx context.Context, from, asset, amount string) (TxReceipt, error) {
	var receipt TxReceipt
	params := map[string]string{"from": from, "asset": asset, "amount": amount}
	err := c.Call(ctx, "vault_redeemCollateral", []interface{}{params}, &receipt)
	return receipt, err
}

// BurnZUSD repays minted debt.
func (c *Client) BurnZUSD(ctx context.Context, from, amount string) (TxReceipt, error) {
	var receipt TxReceipt
	params := map[string]string{"from": from, "amount": amount}
	err := c.Call(ctx, "vault_burnZusd", []interface{}{params}, &receipt)
	return receipt, err
}

// RedeemForZUSD burns debt and withdraws collateral in one atomic call.
func (c *Client) RedeemForZUSD(ctx context.Context, from, asset, amount, burnAmount string) (TxReceipt, error) {
	var receipt TxReceipt
	params := map[string]string{"from": from, "asset": asset, "amount": amount, "burnAmount": burnAmount}
	err := c.Call(ctx, "vault_redeemForZusd", []interface{}{params}, &receipt)
	return receipt, err
}

// Liquidate covers debt of an unhealthy position in exchange for discounted
// collateral.
func (c *Client) Liquidate(ctx context.Context, params LiquidateParams) (LiquidationReceipt, error) {
	var receipt LiquidationReceipt
	err := c.Call(ctx, "vault_liquidate", []interface{}{params}, &receipt)
	return receipt, err
}

// SetPrice publishes a manual oracle price. Guarded like the other mutating
// methods; intended for test networks.
func (c *Client) SetPrice(ctx context.Context, feed, price string, decimals uint8) (PriceUpdate, error) {
	var update PriceUpdate
	params := map[string]interface{}{"feed": feed, "price": price, "decimals": decimals}
	err := c.Call(ctx, "vault_setPrice", []interface{}{params}, &update)
	return update, err
}

// GetAccount fetches the account summary for an address.
func (c *Client) GetAccount(ctx context.Context, address string) (Account, error) {
	var account Account
	err := c.Call(ctx, "vault_getAccount", []interface{}{map[string]string{"address": address}}, &account)
	return account, err
}

// GetPosition fetches the per-asset collateral breakdown for an address.
func (c *Client) GetPosition(ctx context.Context, address string) (Position, error) {
	var position Position
	err := c.Call(ctx, "vault_getPosition", []interface{}{map[string]string{"address": address}}, &position)
	return position, err
}

// GetHealthFactor fetches just the health factor for an address.
func (c *Client) GetHealthFactor(ctx context.Context, address string) (HealthFactor, error) {
	var health HealthFactor
	err := c.Call(ctx, "vault_healthFactor", []interface{}{map[string]string{"address": address}}, &health)
	return health, err
}

// USDValue prices an asset amount in USD wei.
func (c *Client) USDValue(ctx context.Context, asset, amount string) (Valuation, error) {
	var valuation Valuation
	params := map[string]string{"asset": asset, "amount": amount}
	err := c.Call(ctx, "vault_usdValue", []interface{}{params}, &valuation)
	return valuation, err
}

// AssetAmount inverts USDValue: how much of the asset a USD value buys.
func (c *Client) AssetAmount(ctx context.Context, asset, usdValue string) (Valuation, error) {
	var valuation Valuation
	params := map[string]string{"asset": asset, "usdValue": usdValue}
	err := c.Call(ctx, "vault_assetAmount", []interface{}{params}, &valuation)
	return valuation, err
}

// ListAssets enumerates the approved collateral assets with current quotes.
func (c *Client) ListAssets(ctx context.Context) ([]AssetQuote, error) {
	var result assetsResult
	if err := c.Call(ctx, "vault_listAssets", nil, &result); err != nil {
		return nil, err
	}
	return result.Assets, nil
}

// GetTokenBalance reads a bank balance for any asset, ZUSD included.
func (c *Client) GetTokenBalance(ctx context.Context, address, asset string) (TokenBalance, error) {
	var balance TokenBalance
	params := map[string]string{"address": address, "asset": asset}
	err := c.Call(ctx, "vault_tokenBalance", []interface{}{params}, &balance)
	return balance, err
}

// ActivityEntry is one audited engine event. Timestamps are RFC 3339.
type ActivityEntry struct {
	Sequence         uint64 `json:"sequence"`
	Type             string `json:"type"`
	Account          string `json:"account"`
	Counterparty     string `json:"counterparty,omitempty"`
	Asset            string `json:"asset,omitempty"`
	Amount           string `json:"amount,omitempty"`
	DebtCovered      string `json:"debtCovered,omitempty"`
	CollateralSeized string `json:"collateralSeized,omitempty"`
	HealthFactor     string `json:"healthFactor,omitempty"`
	Receipt          string `json:"receipt,omitempty"`
	OccurredAt       string `json:"occurredAt"`
	SettledAt        string `json:"settledAt,omitempty"`
}

type activityResult struct {
	Address string          `json:"address"`
	Events  []ActivityEntry `json:"events"`
}

// LiquidationEntry pairs an audited liquidation with its receipt check.
type LiquidationEntry struct {
	ActivityEntry
	Verified bool `json:"verified"`
}

type liquidationsResult struct {
	Liquidations []LiquidationEntry `json:"liquidations"`
}

// VerifyResult reports whether an audited liquidation's receipt still matches
// its recorded fields.
type VerifyResult struct {
	Sequence uint64 `json:"sequence"`
	Found    bool   `json:"found"`
	Verified bool   `json:"verified"`
}

// RecentActivity lists the newest audited events for an account.
func (c *Client) RecentActivity(ctx context.Context, address string, limit int) ([]ActivityEntry, error) {
	var result activityResult
	params := map[string]interface{}{"address": address, "limit": limit}
	if err := c.Call(ctx, "audit_recentActivity", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Liquidations lists audited liquidations settled inside the window. Zero
// times leave that end of the window open.
func (c *Client) Liquidations(ctx context.Context, start, end time.Time) ([]LiquidationEntry, error) {
	params := map[string]string{}
	if !start.IsZero() {
		params["start"] = start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		params["end"] = end.UTC().Format(time.RFC3339)
	}
	var result liquidationsResult
	if err := c.Call(ctx, "audit_liquidations", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result.Liquidations, nil
}

// VerifyLiquidation recomputes the receipt for one audited liquidation.
func (c *Client) VerifyLiquidation(ctx context.Context, sequence uint64) (VerifyResult, error) {
	var result VerifyResult
	params := map[string]uint64{"sequence": sequence}
	err := c.Call(ctx, "audit_verifyLiquidation", []interface{}{params}, &result)
	return result, err
}
