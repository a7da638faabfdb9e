package token

import (
	"errors"
	"fmt"
	"math/big"

	"zusd/crypto"
)

var (
	errNilState            = errors.New("token bank: state not configured")
	errInvalidAmount       = errors.New("token bank: amount must not be negative")
	ErrInsufficientBalance = errors.New("token bank: insufficient balance")
)

// BankState is the persistence surface the bank requires. The ledger backing
// the vault engine satisfies it, which keeps token movement inside the same
// snapshot scope as position updates.
type BankState interface {
	TokenBalance(symbol string, addr []byte) (*big.Int, error)
	SetTokenBalance(symbol string, addr []byte, amount *big.Int) error
	TokenSupply(symbol string) (*big.Int, error)
	SetTokenSupply(symbol string, amount *big.Int) error
}

// Bank is the in-process fungible token ledger. Each symbol is an independent
// balance sheet; handles issued by Asset implement the Token and Minter
// interfaces against it.
type Bank struct {
	state BankState
}

func NewBank(state BankState) *Bank {
	return &Bank{state: state}
}

// Asset issues a token handle for symbol whose Transfer spends from holder.
func (b *Bank) Asset(symbol string, holder crypto.Address) *Asset {
	return &Asset{bank: b, symbol: symbol, holder: holder}
}

// Balance reads the current balance without issuing a handle.
func (b *Bank) Balance(symbol string, addr crypto.Address) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	return b.state.TokenBalance(symbol, addr.Bytes())
}

// Supply reads the outstanding supply of symbol.
func (b *Bank) Supply(symbol string) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	return b.state.TokenSupply(symbol)
}

func (b *Bank) move(symbol string, from, to crypto.Address, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := b.state.TokenBalance(symbol, from.Bytes())
	if err != nil {
		return fmt.Errorf("token bank: load %s balance: %w", symbol, err)
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := b.state.TokenBalance(symbol, to.Bytes())
	if err != nil {
		return fmt.Errorf("token bank: load %s balance: %w", symbol, err)
	}
	if err := b.state.SetTokenBalance(symbol, from.Bytes(), new(big.Int).Sub(fromBal, amount)); err != nil {
		return fmt.Errorf("token bank: debit %s: %w", symbol, err)
	}
	if err := b.state.SetTokenBalance(symbol, to.Bytes(), new(big.Int).Add(toBal, amount)); err != nil {
		return fmt.Errorf("token bank: credit %s: %w", symbol, err)
	}
	return nil
}

func (b *Bank) mint(symbol string, to crypto.Address, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	supply, err := b.state.TokenSupply(symbol)
	if err != nil {
		return fmt.Errorf("token bank: load %s supply: %w", symbol, err)
	}
	balance, err := b.state.TokenBalance(symbol, to.Bytes())
	if err != nil {
		return fmt.Errorf("token bank: load %s balance: %w", symbol, err)
	}
	if err := b.state.SetTokenSupply(symbol, new(big.Int).Add(supply, amount)); err != nil {
		return fmt.Errorf("token bank: grow %s supply: %w", symbol, err)
	}
	if err := b.state.SetTokenBalance(symbol, to.Bytes(), new(big.Int).Add(balance, amount)); err != nil {
		return fmt.Errorf("token bank: credit %s: %w", symbol, err)
	}
	return nil
}

func (b *Bank) burn(symbol string, from crypto.Address, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := b.state.TokenBalance(symbol, from.Bytes())
	if err != nil {
		return fmt.Errorf("token bank: load %s balance: %w", symbol, err)
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := b.state.TokenSupply(symbol)
	if err != nil {
		return fmt.Errorf("token bank: load %s supply: %w", symbol, err)
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("token bank: burn exceeds %s supply", symbol)
	}
	if err := b.state.SetTokenBalance(symbol, from.Bytes(), new(big.Int).Sub(balance, amount)); err != nil {
		return fmt.Errorf("token bank: debit %s: %w", symbol, err)
	}
	if err := b.state.SetTokenSupply(symbol, new(big.Int).Sub(supply, amount)); err != nil {
		return fmt.Errorf("token bank: shrink %s supply: %w", symbol, err)
	}
	return nil
}

// Asset binds a bank symbol to a holder account. It satisfies Token for
// collateral assets and Minter for the synthetic token.
type Asset struct {
	bank   *Bank
	symbol string
	holder crypto.Address
}

func (a *Asset) Symbol() string {
	return a.symbol
}

func (a *Asset) Transfer(to crypto.Address, amount *big.Int) error {
	return a.bank.move(a.symbol, a.holder, to, amount)
}

func (a *Asset) TransferFrom(from, to crypto.Address, amount *big.Int) error {
	return a.bank.move(a.symbol, from, to, amount)
}

func (a *Asset) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return a.bank.Balance(a.symbol, addr)
}

func (a *Asset) Mint(to crypto.Address, amount *big.Int) error {
	return a.bank.mint(a.symbol, to, amount)
}

func (a *Asset) Burn(from crypto.Address, amount *big.Int) error {
	return a.bank.burn(a.symbol, from, amount)
}

func (a *Asset) TotalSupply() (*big.Int, error) {
	return a.bank.Supply(a.symbol)
}
