package vault

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	// precisionFactor scales health factors and USD valuations; 1e18 equals
	// 1.0.
	precisionFactor = big.NewInt(1_000_000_000_000_000_000)
)

// MinHealthFactor is 1.0 at 18-decimal precision. Accounts at or above it are
// healthy; below it they are eligible for liquidation.
var MinHealthFactor = new(big.Int).Set(precisionFactor)

// MaxHealthFactor is reported for debt-free accounts. A position with no
// minted synthetic cannot be unhealthy no matter its collateral.
var MaxHealthFactor = new(uint256.Int).SetAllOne().ToBig()

const moduleName = "vault"

// RiskParams groups the safety limits governing the vault.
type RiskParams struct {
	// LiquidationThresholdBps discounts collateral value when computing the
	// health factor, expressed in basis points. 5000 demands 200%
	// over-collateralization.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the premium paid to liquidators on top of the
	// seized debt value, expressed in basis points.
	LiquidationBonusBps uint64
}

// DefaultRiskParams mirrors the canonical deployment: 200%
// over-collateralization and a 10% liquidation bonus.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		LiquidationThresholdBps: 5000,
		LiquidationBonusBps:     1000,
	}
}

// Validate rejects parameter sets that would break the engine's invariants.
func (p RiskParams) Validate() error {
	if p.LiquidationThresholdBps == 0 || p.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("vault: liquidation threshold must be within (0, 10000] bps, got %d", p.LiquidationThresholdBps)
	}
	if p.LiquidationBonusBps >= 10_000 {
		return fmt.Errorf("vault: liquidation bonus must be below 10000 bps, got %d", p.LiquidationBonusBps)
	}
	return nil
}

// AccountInformation is the read-only projection of one account's position.
type AccountInformation struct {
	Minted        *big.Int
	CollateralUSD *big.Int
	HealthFactor  *big.Int
}

// Clone returns a deep copy safe for callers to retain.
func (a AccountInformation) Clone() AccountInformation {
	cloned := AccountInformation{}
	if a.Minted != nil {
		cloned.Minted = new(big.Int).Set(a.Minted)
	}
	if a.CollateralUSD != nil {
		cloned.CollateralUSD = new(big.Int).Set(a.CollateralUSD)
	}
	if a.HealthFactor != nil {
		cloned.HealthFactor = new(big.Int).Set(a.HealthFactor)
	}
	return cloned
}
