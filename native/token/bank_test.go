package token

import (
	"errors"
	"math/big"
	"testing"

	"zusd/crypto"
)

type mockBankState struct {
	balances map[string]*big.Int
	supplies map[string]*big.Int
}

func newMockBankState() *mockBankState {
	return &mockBankState{
		balances: make(map[string]*big.Int),
		supplies: make(map[string]*big.Int),
	}
}

func balanceKey(symbol string, addr []byte) string {
	return symbol + "/" + string(addr)
}

func (m *mockBankState) TokenBalance(symbol string, addr []byte) (*big.Int, error) {
	if bal, ok := m.balances[balanceKey(symbol, addr)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockBankState) SetTokenBalance(symbol string, addr []byte, amount *big.Int) error {
	m.balances[balanceKey(symbol, addr)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockBankState) TokenSupply(symbol string) (*big.Int, error) {
	if supply, ok := m.supplies[symbol]; ok {
		return new(big.Int).Set(supply), nil
	}
	return big.NewInt(0), nil
}

func (m *mockBankState) SetTokenSupply(symbol string, amount *big.Int) error {
	m.supplies[symbol] = new(big.Int).Set(amount)
	return nil
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	b := make([]byte, 20)
	b[19] = suffix
	return crypto.NewAddress(prefix, b)
}

func TestBankMintTransferBurn(t *testing.T) {
	bank := NewBank(newMockBankState())
	custodian := crypto.ModuleAddress("vault")
	alice := makeAddress(crypto.AccountPrefix, 0x01)
	bob := makeAddress(crypto.AccountPrefix, 0x02)

	zusd := bank.Asset("ZUSD", custodian)
	if err := zusd.Mint(alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	supply, err := zusd.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected supply 500, got %s", supply)
	}

	if err := zusd.TransferFrom(alice, bob, big.NewInt(200)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	bobBal, err := zusd.BalanceOf(bob)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if bobBal.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected bob balance 200, got %s", bobBal)
	}

	if err := zusd.TransferFrom(bob, custodian, big.NewInt(200)); err != nil {
		t.Fatalf("pull to custodian: %v", err)
	}
	if err := zusd.Burn(custodian, big.NewInt(200)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	supply, err = zusd.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected supply 300 after burn, got %s", supply)
	}
}

func TestBankRejectsOverdraft(t *testing.T) {
	bank := NewBank(newMockBankState())
	custodian := crypto.ModuleAddress("vault")
	alice := makeAddress(crypto.AccountPrefix, 0x03)

	weth := bank.Asset("WETH", custodian)
	if err := weth.Mint(alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := weth.TransferFrom(alice, custodian, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	bal, err := weth.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if bal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed transfer must not move funds, balance %s", bal)
	}
}

func TestBankRejectsNegativeAmounts(t *testing.T) {
	bank := NewBank(newMockBankState())
	custodian := crypto.ModuleAddress("vault")
	alice := makeAddress(crypto.AccountPrefix, 0x04)

	zusd := bank.Asset("ZUSD", custodian)
	if err := zusd.Mint(alice, big.NewInt(-5)); err == nil {
		t.Fatal("expected error minting negative amount")
	}
	if err := zusd.TransferFrom(alice, custodian, nil); err == nil {
		t.Fatal("expected error transferring nil amount")
	}
}

func TestBankBurnRequiresBalance(t *testing.T) {
	bank := NewBank(newMockBankState())
	custodian := crypto.ModuleAddress("vault")

	zusd := bank.Asset("ZUSD", custodian)
	err := zusd.Burn(custodian, big.NewInt(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBankZeroAmountIsNoop(t *testing.T) {
	bank := NewBank(newMockBankState())
	custodian := crypto.ModuleAddress("vault")
	alice := makeAddress(crypto.AccountPrefix, 0x05)

	weth := bank.Asset("WETH", custodian)
	if err := weth.TransferFrom(alice, custodian, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer should succeed, got %v", err)
	}
}
