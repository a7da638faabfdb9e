package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState     = errors.New("vault engine: state not configured")
	errNilRegistry  = errors.New("vault engine: collateral registry not configured")
	errNilAdapter   = errors.New("vault engine: price adapter not configured")
	errNilSynthetic = errors.New("vault engine: synthetic token not configured")

	// ErrAmountMustBePositive rejects zero or negative operation amounts.
	ErrAmountMustBePositive = errors.New("vault engine: amount must be positive")
	// ErrUnsupportedAsset rejects collateral symbols outside the registry.
	ErrUnsupportedAsset = errors.New("vault engine: collateral asset not registered")
	// ErrLengthMismatch rejects registry construction from unequal lists.
	ErrLengthMismatch = errors.New("vault engine: asset and feed lists must match in length")
	// ErrCollateralTransferFailed wraps a collateral token movement fault.
	ErrCollateralTransferFailed = errors.New("vault engine: collateral transfer failed")
	// ErrSyntheticTransferFailed wraps a synthetic token movement fault.
	ErrSyntheticTransferFailed = errors.New("vault engine: synthetic transfer failed")
	// ErrMintFailed wraps a synthetic mint fault.
	ErrMintFailed = errors.New("vault engine: synthetic mint failed")
	// ErrHealthFactorBroken marks an operation that would leave the acting
	// account below the minimum health factor.
	ErrHealthFactorBroken = errors.New("vault engine: health factor below minimum")
	// ErrHealthFactorOK rejects liquidation of a healthy target.
	ErrHealthFactorOK = errors.New("vault engine: target health factor not below minimum")
	// ErrHealthFactorNotImproved rejects liquidations that fail to strictly
	// raise the target's health factor.
	ErrHealthFactorNotImproved = errors.New("vault engine: liquidation did not improve target health")
	// ErrInsufficientCollateral marks a withdrawal or seizure exceeding the
	// target position.
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral balance")
	// ErrInsufficientDebt marks a burn exceeding the outstanding debt.
	ErrInsufficientDebt = errors.New("vault engine: burn exceeds outstanding debt")
	// ErrReentrantCall is returned when an engine operation is entered while
	// another is still in flight. The engine never queues; callers retry.
	ErrReentrantCall = errors.New("vault engine: operation already in flight")
)

// HealthFactorError carries the computed factor alongside the broken-health
// sentinel so callers can report how far below minimum the account fell.
type HealthFactorError struct {
	Factor *big.Int
}

func (e *HealthFactorError) Error() string {
	if e == nil || e.Factor == nil {
		return ErrHealthFactorBroken.Error()
	}
	return fmt.Sprintf("%s (factor %s)", ErrHealthFactorBroken.Error(), e.Factor)
}

func (e *HealthFactorError) Unwrap() error {
	return ErrHealthFactorBroken
}

func newHealthFactorError(factor *big.Int) *HealthFactorError {
	err := &HealthFactorError{}
	if factor != nil {
		err.Factor = new(big.Int).Set(factor)
	}
	return err
}
