package vault

import (
	"fmt"
	"math/big"

	"zusd/crypto"
)

// healthFactorValue computes the 1e18-scaled health factor for a position.
// Collateral value is first discounted by the liquidation threshold, then
// scaled against the minted debt. A position with no debt cannot become
// unsafe no matter what prices do, so it reports MaxHealthFactor.
func healthFactorValue(collateralUSD, minted *big.Int, thresholdBps uint64) *big.Int {
	if minted == nil || minted.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	adjusted := new(big.Int).Mul(collateralUSD, new(big.Int).SetUint64(thresholdBps))
	adjusted.Quo(adjusted, basisPoints)
	adjusted.Mul(adjusted, precisionFactor)
	return adjusted.Quo(adjusted, minted)
}

func (e *Engine) isHealthy(factor *big.Int) bool {
	return factor.Cmp(e.minHealth) >= 0
}

// healthFactor reads the account's debt and collateral and evaluates the
// factor under the engine's configured threshold.
func (e *Engine) healthFactor(addr crypto.Address) (*big.Int, error) {
	minted, collateralUSD, err := e.accountInfo(addr)
	if err != nil {
		return nil, err
	}
	return healthFactorValue(collateralUSD, minted, e.params.LiquidationThresholdBps), nil
}

func (e *Engine) accountInfo(addr crypto.Address) (minted, collateralUSD *big.Int, err error) {
	minted, err = e.state.DebtBalance(addr.Bytes())
	if err != nil {
		return nil, nil, err
	}
	collateralUSD, err = e.collateralValueUSD(addr)
	if err != nil {
		return nil, nil, err
	}
	return minted, collateralUSD, nil
}

// collateralValueUSD sums the oracle valuation of every registered asset the
// account holds. Assets with a zero balance skip the oracle entirely so one
// dead feed cannot block accounts that never touched it.
func (e *Engine) collateralValueUSD(addr crypto.Address) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range e.registry.Assets() {
		balance, err := e.state.CollateralBalance(addr.Bytes(), asset)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		feed, err := e.feedFor(asset)
		if err != nil {
			return nil, err
		}
		value, err := e.adapter.USDValue(feed, balance)
		if err != nil {
			return nil, fmt.Errorf("vault engine: value %s collateral: %w", asset, err)
		}
		total.Add(total, value)
	}
	return total, nil
}

// feedFor resolves the price feed bound to a registered symbol. Registration
// guarantees a feed for every allowed asset, so a miss doubles as the
// unsupported-asset check.
func (e *Engine) feedFor(symbol string) (string, error) {
	feed, ok := e.registry.FeedID(symbol)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
	}
	return feed, nil
}

// HealthFactor reports the current health factor for an account. Values at or
// above MinHealthFactor are safe; below it the position is open to
// liquidation. Read-only and does not take the operation lock, so a value
// observed during a concurrent operation may be superseded immediately.
func (e *Engine) HealthFactor(addr crypto.Address) (*big.Int, error) {
	if err := e.readReady(); err != nil {
		return nil, err
	}
	return e.healthFactor(addr)
}

// AccountInfo returns the minted debt, aggregate collateral value and health
// factor for an account in one read.
func (e *Engine) AccountInfo(addr crypto.Address) (AccountInformation, error) {
	if err := e.readReady(); err != nil {
		return AccountInformation{}, err
	}
	minted, collateralUSD, err := e.accountInfo(addr)
	if err != nil {
		return AccountInformation{}, err
	}
	return AccountInformation{
		Minted:        minted,
		CollateralUSD: collateralUSD,
		HealthFactor:  healthFactorValue(collateralUSD, minted, e.params.LiquidationThresholdBps),
	}, nil
}

// CollateralValueUSD reports the USD value of all collateral an account has
// deposited, scaled to 1e18.
func (e *Engine) CollateralValueUSD(addr crypto.Address) (*big.Int, error) {
	if err := e.readReady(); err != nil {
		return nil, err
	}
	return e.collateralValueUSD(addr)
}

// CollateralBalanceOf reports the deposited balance of one asset.
func (e *Engine) CollateralBalanceOf(addr crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	symbol := normaliseAsset(asset)
	if !e.registry.IsAllowed(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return e.state.CollateralBalance(addr.Bytes(), symbol)
}

// MintedBalance reports the account's outstanding synthetic debt without
// touching the oracle.
func (e *Engine) MintedBalance(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.DebtBalance(addr.Bytes())
}

// USDValue converts an amount of a registered asset into its 1e18-scaled USD
// value at the current oracle price.
func (e *Engine) USDValue(asset string, amount *big.Int) (*big.Int, error) {
	if err := e.readReady(); err != nil {
		return nil, err
	}
	feed, err := e.feedFor(normaliseAsset(asset))
	if err != nil {
		return nil, err
	}
	return e.adapter.USDValue(feed, amount)
}

// AssetAmountForUSD converts a 1e18-scaled USD amount into units of a
// registered asset at the current oracle price.
func (e *Engine) AssetAmountForUSD(asset string, usd *big.Int) (*big.Int, error) {
	if err := e.readReady(); err != nil {
		return nil, err
	}
	feed, err := e.feedFor(normaliseAsset(asset))
	if err != nil {
		return nil, err
	}
	return e.adapter.AssetAmountForUSD(feed, usd)
}

// CollateralAssets lists the registered collateral symbols in registration
// order.
func (e *Engine) CollateralAssets() []string {
	if e == nil || e.registry == nil {
		return nil
	}
	return e.registry.Assets()
}

// IsCollateral reports whether the asset is accepted by the registry.
func (e *Engine) IsCollateral(asset string) bool {
	if e == nil || e.registry == nil {
		return false
	}
	return e.registry.IsAllowed(normaliseAsset(asset))
}

// MinimumHealthFactor returns the configured liquidation boundary.
func (e *Engine) MinimumHealthFactor() *big.Int {
	if e == nil {
		return new(big.Int).Set(MinHealthFactor)
	}
	return new(big.Int).Set(e.minHealth)
}

// readReady verifies the wiring a read path depends on.
func (e *Engine) readReady() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.adapter == nil {
		return errNilAdapter
	}
	return nil
}
