package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"zusd/crypto"
	"zusd/native/vault"
)

type vaultCollateralParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type vaultMintParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type vaultDepositAndMintParams struct {
	From       string `json:"from"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	MintAmount string `json:"mintAmount"`
}

type vaultRedeemForZusdParams struct {
	From       string `json:"from"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	BurnAmount string `json:"burnAmount"`
}

type vaultLiquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type vaultAddressParams struct {
	Address string `json:"address"`
}

type vaultBalanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type vaultValueParams struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type vaultAssetAmountParams struct {
	Asset    string `json:"asset"`
	USDValue string `json:"usdValue"`
}

type vaultSetPriceParams struct {
	Feed     string `json:"feed"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

type vaultTxResult struct {
	TxHash string `json:"txHash"`
}

type vaultLiquidateResult struct {
	TxHash           string `json:"txHash"`
	DebtCovered      string `json:"debtCovered"`
	CollateralSeized string `json:"collateralSeized"`
}

type vaultAccountResult struct {
	Address            string `json:"address"`
	MintedZusd         string `json:"mintedZusd"`
	CollateralValueUsd string `json:"collateralValueUsd"`
	HealthFactor       string `json:"healthFactor"`
}

type vaultCollateralRow struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usdValue"`
}

type vaultPositionResult struct {
	Address            string               `json:"address"`
	Collateral         []vaultCollateralRow `json:"collateral"`
	MintedZusd         string               `json:"mintedZusd"`
	CollateralValueUsd string               `json:"collateralValueUsd"`
	HealthFactor       string               `json:"healthFactor"`
}

type vaultHealthResult struct {
	Address      string `json:"address"`
	HealthFactor string `json:"healthFactor"`
}

type vaultValueResult struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usdValue"`
}

type vaultAssetQuote struct {
	Symbol   string `json:"symbol"`
	PriceUsd string `json:"priceUsd"`
}

type vaultAssetsResult struct {
	Assets []vaultAssetQuote `json:"assets"`
}

type vaultBalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type vaultSetPriceResult struct {
	Feed     string `json:"feed"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

// decodeParams expects exactly one parameter object.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("parameter object required")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %s", err.Error())
	}
	return nil
}

func parseVaultAddress(raw, field string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s address required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s address: %s", field, err.Error())
	}
	return addr, nil
}

func parseVaultAmount(raw, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return value, nil
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultCollateralParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseVaultAddress(input.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.vault.Deposit(from, input.Asset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultTxResult{TxHash: txHash})
}

func (s *Server) handleVaultMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultMintParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseVaultAddress(input.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.vault.Mint(from, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultTxResult{TxHash: txHash})
}

func (s *Server) handleVaultDepositAndMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultDepositAndMintParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseVaultAddress(input.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateral, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	mintAmount, err := parseVaultAmount(input.MintAmount, "mintAmount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.vault.DepositAndMint(from, input.Asset, collateral, mintAmount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultTxResult{TxHash: txHash})
}

func (s *Server) handleVaultRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultCollateralParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseVaultAddress(input.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.vault.Redeem(from, input.Asset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultTxResult{TxHash: txHash})
}

func (s *Server) handleVaultBurn(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultMintParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseVaultAddress(input.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.vault.Burn(from, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultTxResult{TxHash: txHash})
}

func (s *Server) handleVaultRedeemForZusd(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultRedeemForZusdParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseVaultAddress(input.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateral, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	burnAmount, err := parseVaultAmount(input.BurnAmount, "burnAmount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.vault.RedeemForZUSD(from, input.Asset, collateral, burnAmount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultTxResult{TxHash: txHash})
}

func (s *Server) handleVaultLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultLiquidateParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	liquidator, err := parseVaultAddress(input.Liquidator, "liquidator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := parseVaultAddress(input.Target, "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	debtToCover, err := parseVaultAmount(input.DebtToCover, "debtToCover")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, seized, modErr := s.vault.Liquidate(liquidator, target, input.Asset, debtToCover)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultLiquidateResult{
		TxHash:           txHash,
		DebtCovered:      debtToCover.String(),
		CollateralSeized: bigString(seized),
	})
}

func (s *Server) handleVaultSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultSetPriceParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseVaultAmount(input.Price, "price")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if modErr := s.vault.SetManualPrice(input.Feed, price, input.Decimals); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultSetPriceResult{
		Feed:     strings.TrimSpace(input.Feed),
		Price:    price.String(),
		Decimals: input.Decimals,
	})
}

func (s *Server) handleVaultGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultAddressParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseVaultAddress(input.Address, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	info, modErr := s.vault.Account(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, accountResultFrom(addr, info))
}

func (s *Server) handleVaultGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultAddressParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseVaultAddress(input.Address, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	positions, info, modErr := s.vault.Position(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	rows := make([]vaultCollateralRow, len(positions))
	for i, pos := range positions {
		rows[i] = vaultCollateralRow{
			Asset:    pos.Asset,
			Amount:   bigString(pos.Amount),
			UsdValue: bigString(pos.USDValue),
		}
	}
	account := accountResultFrom(addr, info)
	writeResult(w, req.ID, vaultPositionResult{
		Address:            account.Address,
		Collateral:         rows,
		MintedZusd:         account.MintedZusd,
		CollateralValueUsd: account.CollateralValueUsd,
		HealthFactor:       account.HealthFactor,
	})
}

func (s *Server) handleVaultHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultAddressParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseVaultAddress(input.Address, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	factor, modErr := s.vault.HealthFactor(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultHealthResult{Address: addr.String(), HealthFactor: bigString(factor)})
}

func (s *Server) handleVaultUSDValue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultValueParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseVaultAmount(input.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, modErr := s.vault.USDValue(input.Asset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{
		Asset:    strings.ToUpper(strings.TrimSpace(input.Asset)),
		Amount:   amount.String(),
		UsdValue: bigString(value),
	})
}

func (s *Server) handleVaultAssetAmount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultAssetAmountParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	usd, err := parseVaultAmount(input.USDValue, "usdValue")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, modErr := s.vault.AssetAmount(input.Asset, usd)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{
		Asset:    strings.ToUpper(strings.TrimSpace(input.Asset)),
		Amount:   bigString(amount),
		UsdValue: usd.String(),
	})
}

func (s *Server) handleVaultListAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	quotes, modErr := s.vault.Assets()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	result := vaultAssetsResult{Assets: make([]vaultAssetQuote, len(quotes))}
	for i, quote := range quotes {
		result.Assets[i] = vaultAssetQuote{Symbol: quote.Symbol, PriceUsd: bigString(quote.PriceUSD)}
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultTokenBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input vaultBalanceParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseVaultAddress(input.Address, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, modErr := s.vault.TokenBalance(input.Asset, addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, vaultBalanceResult{
		Address: addr.String(),
		Asset:   strings.ToUpper(strings.TrimSpace(input.Asset)),
		Balance: bigString(balance),
	})
}

func accountResultFrom(addr crypto.Address, info vault.AccountInformation) vaultAccountResult {
	return vaultAccountResult{
		Address:            addr.String(),
		MintedZusd:         bigString(info.Minted),
		CollateralValueUsd: bigString(info.CollateralUSD),
		HealthFactor:       bigString(info.HealthFactor),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
