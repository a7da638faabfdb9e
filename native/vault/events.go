package vault

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"zusd/crypto"
)

// Event types published by the engine after a committed operation.
const (
	TypeCollateralDeposited = "vault.collateral_deposited"
	TypeSyntheticMinted     = "vault.zusd_minted"
	TypeCollateralRedeemed  = "vault.collateral_redeemed"
	TypeSyntheticBurned     = "vault.zusd_burned"
	TypePositionLiquidated  = "vault.position_liquidated"
)

// CollateralDeposited records a collateral escrow into the module vault.
type CollateralDeposited struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
	Time    time.Time
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (ev CollateralDeposited) Attributes() map[string]string {
	return map[string]string{
		"account": ev.Account.String(),
		"asset":   ev.Asset,
		"amount":  ev.Amount.String(),
	}
}

// SyntheticMinted records newly issued ZUSD and the health factor the
// position settled at.
type SyntheticMinted struct {
	Account      crypto.Address
	Amount       *big.Int
	HealthFactor *big.Int
	Time         time.Time
}

func (SyntheticMinted) EventType() string { return TypeSyntheticMinted }

func (ev SyntheticMinted) Attributes() map[string]string {
	return map[string]string{
		"account":       ev.Account.String(),
		"amount":        ev.Amount.String(),
		"health_factor": ev.HealthFactor.String(),
	}
}

// CollateralRedeemed records collateral leaving the module vault.
type CollateralRedeemed struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
	Time    time.Time
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (ev CollateralRedeemed) Attributes() map[string]string {
	return map[string]string{
		"account": ev.Account.String(),
		"asset":   ev.Asset,
		"amount":  ev.Amount.String(),
	}
}

// SyntheticBurned records retired ZUSD debt.
type SyntheticBurned struct {
	Account crypto.Address
	Amount  *big.Int
	Time    time.Time
}

func (SyntheticBurned) EventType() string { return TypeSyntheticBurned }

func (ev SyntheticBurned) Attributes() map[string]string {
	return map[string]string{
		"account": ev.Account.String(),
		"amount":  ev.Amount.String(),
	}
}

// PositionLiquidated records a third party covering an unhealthy position.
// Receipt is a content digest over the settlement so downstream consumers
// can verify stored copies were not altered.
type PositionLiquidated struct {
	Liquidator         crypto.Address
	Target             crypto.Address
	Asset              string
	DebtCovered        *big.Int
	CollateralSeized   *big.Int
	TargetFactorBefore *big.Int
	TargetFactorAfter  *big.Int
	Time               time.Time
	Receipt            string
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (ev PositionLiquidated) Attributes() map[string]string {
	return map[string]string{
		"liquidator":        ev.Liquidator.String(),
		"target":            ev.Target.String(),
		"asset":             ev.Asset,
		"debt_covered":      ev.DebtCovered.String(),
		"collateral_seized": ev.CollateralSeized.String(),
		"factor_before":     ev.TargetFactorBefore.String(),
		"factor_after":      ev.TargetFactorAfter.String(),
		"settled_at":        strconv.FormatInt(ev.Time.UnixNano(), 10),
		"receipt":           ev.Receipt,
	}
}

// liquidationReceipt digests the settlement fields with BLAKE3. The same
// computation rebuilt from stored attributes must reproduce the hex digest.
func liquidationReceipt(liquidator, target crypto.Address, asset string, debtCovered, collateralSeized *big.Int, at time.Time) string {
	payload := strings.Join([]string{
		liquidator.String(),
		target.String(),
		asset,
		debtCovered.String(),
		collateralSeized.String(),
		strconv.FormatInt(at.UnixNano(), 10),
	}, "|")
	digest := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}

// VerifyLiquidationReceipt recomputes the digest for a stored liquidation
// record and compares it to the claimed receipt.
func VerifyLiquidationReceipt(liquidator, target crypto.Address, asset string, debtCovered, collateralSeized *big.Int, at time.Time, receipt string) bool {
	return liquidationReceipt(liquidator, target, asset, debtCovered, collateralSeized, at) == receipt
}
