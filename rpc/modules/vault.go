package modules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"zusd/crypto"
	nativecommon "zusd/native/common"
	"zusd/native/oracle"
	"zusd/native/token"
	"zusd/native/vault"
)

// VaultModule adapts the collateral engine for the JSON-RPC surface. Engine
// errors are translated into ModuleErrors so the transport can map them onto
// HTTP statuses without inspecting sentinel values itself.
type VaultModule struct {
	engine *vault.Engine
	bank   *token.Bank

	mu    sync.RWMutex
	feeds map[string]*oracle.ManualFeed
}

func NewVaultModule(engine *vault.Engine, bank *token.Bank) *VaultModule {
	return &VaultModule{
		engine: engine,
		bank:   bank,
		feeds:  make(map[string]*oracle.ManualFeed),
	}
}

// BindManualFeed registers an operator-controlled feed for vault_setPrice.
func (m *VaultModule) BindManualFeed(id string, feed *oracle.ManualFeed) {
	if m == nil || feed == nil {
		return
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return
	}
	m.mu.Lock()
	m.feeds[trimmed] = feed
	m.mu.Unlock()
}

func (m *VaultModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "vault module not available"}
}

// CollateralPosition is one asset row of an account's deposited collateral.
type CollateralPosition struct {
	Asset    string
	Amount   *big.Int
	USDValue *big.Int
}

// AssetQuote pairs a registered collateral symbol with the USD price of one
// whole (1e18 base unit) token.
type AssetQuote struct {
	Symbol   string
	PriceUSD *big.Int
}

func (m *VaultModule) Deposit(from crypto.Address, asset string, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.DepositCollateral(from, asset, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("deposit", from.String(), amount), nil
}

func (m *VaultModule) Mint(from crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Mint(from, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("mint", from.String(), amount), nil
}

func (m *VaultModule) DepositAndMint(from crypto.Address, asset string, collateralAmount, mintAmount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.DepositAndMint(from, asset, collateralAmount, mintAmount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("depositAndMint", from.String(), collateralAmount, mintAmount), nil
}

func (m *VaultModule) Redeem(from crypto.Address, asset string, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.RedeemCollateral(from, asset, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("redeem", from.String(), amount), nil
}

func (m *VaultModule) Burn(from crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Burn(from, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("burn", from.String(), amount), nil
}

func (m *VaultModule) RedeemForZUSD(from crypto.Address, asset string, collateralAmount, burnAmount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.RedeemForZUSD(from, asset, collateralAmount, burnAmount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("redeemForZusd", from.String(), collateralAmount, burnAmount), nil
}

// Liquidate covers debtToCover of the target's ZUSD debt and reports the
// collateral seized for the liquidator, bonus included.
func (m *VaultModule) Liquidate(liquidator, target crypto.Address, asset string, debtToCover *big.Int) (string, *big.Int, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", nil, m.moduleUnavailable()
	}
	seized, err := m.engine.Liquidate(liquidator, target, asset, debtToCover)
	if err != nil {
		return "", nil, m.wrapError(err)
	}
	primary := fmt.Sprintf("%s:%s", liquidator.String(), target.String())
	return m.makeTxHash("liquidate", primary, debtToCover, seized), seized, nil
}

func (m *VaultModule) Account(addr crypto.Address) (vault.AccountInformation, *ModuleError) {
	if m == nil || m.engine == nil {
		return vault.AccountInformation{}, m.moduleUnavailable()
	}
	info, err := m.engine.AccountInfo(addr)
	if err != nil {
		return vault.AccountInformation{}, m.wrapError(err)
	}
	return info, nil
}

// Position expands Account with the per-asset collateral rows. Assets the
// account never touched are omitted.
func (m *VaultModule) Position(addr crypto.Address) ([]CollateralPosition, vault.AccountInformation, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, vault.AccountInformation{}, m.moduleUnavailable()
	}
	info, err := m.engine.AccountInfo(addr)
	if err != nil {
		return nil, vault.AccountInformation{}, m.wrapError(err)
	}
	assets := m.engine.CollateralAssets()
	positions := make([]CollateralPosition, 0, len(assets))
	for _, symbol := range assets {
		balance, err := m.engine.CollateralBalanceOf(addr, symbol)
		if err != nil {
			return nil, vault.AccountInformation{}, m.wrapError(err)
		}
		if balance == nil || balance.Sign() == 0 {
			continue
		}
		value, err := m.engine.USDValue(symbol, balance)
		if err != nil {
			return nil, vault.AccountInformation{}, m.wrapError(err)
		}
		positions = append(positions, CollateralPosition{Asset: symbol, Amount: balance, USDValue: value})
	}
	return positions, info, nil
}

func (m *VaultModule) HealthFactor(addr crypto.Address) (*big.Int, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	factor, err := m.engine.HealthFactor(addr)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return factor, nil
}

func (m *VaultModule) USDValue(asset string, amount *big.Int) (*big.Int, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	value, err := m.engine.USDValue(asset, amount)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return value, nil
}

func (m *VaultModule) AssetAmount(asset string, usd *big.Int) (*big.Int, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	amount, err := m.engine.AssetAmountForUSD(asset, usd)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return amount, nil
}

// Assets quotes every registered collateral symbol at the current oracle
// price for one whole token.
func (m *VaultModule) Assets() ([]AssetQuote, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	symbols := m.engine.CollateralAssets()
	quotes := make([]AssetQuote, 0, len(symbols))
	wholeToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	for _, symbol := range symbols {
		price, err := m.engine.USDValue(symbol, wholeToken)
		if err != nil {
			return nil, m.wrapError(err)
		}
		quotes = append(quotes, AssetQuote{Symbol: symbol, PriceUSD: price})
	}
	return quotes, nil
}

// TokenBalance reads a wallet balance from the ledger bank; this is the
// free balance, not collateral locked in the vault.
func (m *VaultModule) TokenBalance(symbol string, addr crypto.Address) (*big.Int, *ModuleError) {
	if m == nil || m.bank == nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "token bank not available"}
	}
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "asset symbol required"}
	}
	balance, err := m.bank.Balance(trimmed, addr)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return balance, nil
}

// SetManualPrice publishes an operator price round on a bound manual feed.
func (m *VaultModule) SetManualPrice(feedID string, price *big.Int, decimals uint8) *ModuleError {
	if m == nil {
		return m.moduleUnavailable()
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "feed identifier required"}
	}
	if price == nil || price.Sign() <= 0 {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "price must be positive"}
	}
	if decimals > 18 {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "decimals must not exceed 18"}
	}
	m.mu.RLock()
	feed, ok := m.feeds[trimmed]
	m.mu.RUnlock()
	if !ok {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: fmt.Sprintf("no manual feed bound for %q", trimmed)}
	}
	feed.SetPrice(price, decimals)
	return nil
}

func (m *VaultModule) makeTxHash(kind, primary string, amounts ...*big.Int) string {
	parts := []string{kind, primary}
	for _, amount := range amounts {
		if amount != nil {
			parts = append(parts, amount.String())
		}
	}
	parts = append(parts, fmt.Sprintf("%d", time.Now().UTC().UnixNano()))
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}

// engineRejections are business rejections the caller can act on; they map
// to invalid-params rather than server faults.
var engineRejections = []error{
	vault.ErrAmountMustBePositive,
	vault.ErrUnsupportedAsset,
	vault.ErrHealthFactorBroken,
	vault.ErrHealthFactorOK,
	vault.ErrHealthFactorNotImproved,
	vault.ErrInsufficientCollateral,
	vault.ErrInsufficientDebt,
	token.ErrInsufficientBalance,
}

func (m *VaultModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: err.Error()}
	}
	if errors.Is(err, vault.ErrReentrantCall) {
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeServerError, Message: err.Error()}
	}
	for _, rejection := range engineRejections {
		if errors.Is(err, rejection) {
			modErr := &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
			var health *vault.HealthFactorError
			if errors.As(err, &health) && health.Factor != nil {
				modErr.Data = map[string]string{"healthFactor": health.Factor.String()}
			}
			return modErr
		}
	}
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
}
