package token

import (
	"math/big"

	"zusd/crypto"
)

// Token is the fungible-asset surface the vault engine consumes. A handle is
// issued for a holder account; Transfer spends from that account. Collateral
// assets only need movement and balance queries; the engine never inspects
// token metadata beyond the symbol.
type Token interface {
	Symbol() string
	// Transfer moves amount from the holder the handle was issued for to addr.
	Transfer(to crypto.Address, amount *big.Int) error
	// TransferFrom moves amount between two arbitrary accounts. The engine
	// is a trusted spender, so no allowance bookkeeping applies.
	TransferFrom(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
}

// Minter extends Token with supply control. The synthetic token backing the
// vault is the only Minter in the system.
type Minter interface {
	Token
	Mint(to crypto.Address, amount *big.Int) error
	// Burn destroys amount held by from, shrinking total supply.
	Burn(from crypto.Address, amount *big.Int) error
	TotalSupply() (*big.Int, error)
}
