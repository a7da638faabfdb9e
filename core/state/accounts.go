package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// loadAmount decodes the RLP big.Int stored under key, defaulting absent
// entries to zero. Positions and balances are created lazily, so a missing
// key is a valid zero balance rather than an error.
func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	raw, ok, err := l.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, fmt.Errorf("state: decode amount: %w", err)
	}
	return amount, nil
}

// storeAmount validates and persists an unsigned amount under key. Balances
// are capped at 2^256-1 so every stored value fits the wire encoding used by
// external token contracts.
func (l *Ledger) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("state: amount overflow")
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state: encode amount: %w", err)
	}
	l.put(key, raw)
	return nil
}

// CollateralBalance returns the units of asset held as collateral by addr.
func (l *Ledger) CollateralBalance(addr []byte, asset string) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	return l.loadAmount(collateralKey(addr, asset))
}

// SetCollateralBalance overwrites the collateral position of addr for asset.
func (l *Ledger) SetCollateralBalance(addr []byte, asset string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	return l.storeAmount(collateralKey(addr, asset), amount)
}

// DebtBalance returns the synthetic units minted against addr's collateral.
func (l *Ledger) DebtBalance(addr []byte) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	return l.loadAmount(debtKey(addr))
}

// SetDebtBalance overwrites the outstanding debt of addr.
func (l *Ledger) SetDebtBalance(addr []byte, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	return l.storeAmount(debtKey(addr), amount)
}

// TokenBalance returns the bank balance of addr for the given token symbol.
func (l *Ledger) TokenBalance(symbol string, addr []byte) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	return l.loadAmount(tokenBalanceKey(symbol, addr))
}

// SetTokenBalance overwrites the bank balance of addr for symbol.
func (l *Ledger) SetTokenBalance(symbol string, addr []byte, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	return l.storeAmount(tokenBalanceKey(symbol, addr), amount)
}

// TokenSupply returns the total minted supply of symbol.
func (l *Ledger) TokenSupply(symbol string) (*big.Int, error) {
	return l.loadAmount(tokenSupplyKey(symbol))
}

// SetTokenSupply overwrites the total supply of symbol.
func (l *Ledger) SetTokenSupply(symbol string, amount *big.Int) error {
	return l.storeAmount(tokenSupplyKey(symbol), amount)
}

// EventSequence returns the last assigned engine event sequence number.
func (l *Ledger) EventSequence() (uint64, error) {
	raw, ok, err := l.get(eventSequenceKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var seq uint64
	if err := rlp.DecodeBytes(raw, &seq); err != nil {
		return 0, fmt.Errorf("state: decode event sequence: %w", err)
	}
	return seq, nil
}

// SetEventSequence persists the event sequence high-water mark.
func (l *Ledger) SetEventSequence(seq uint64) error {
	raw, err := rlp.EncodeToBytes(seq)
	if err != nil {
		return fmt.Errorf("state: encode event sequence: %w", err)
	}
	l.put(eventSequenceKey, raw)
	return nil
}
