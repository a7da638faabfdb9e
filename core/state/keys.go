package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	collateralPrefix   = []byte("vault/collateral:")
	debtPrefix         = []byte("vault/debt:")
	tokenBalancePrefix = []byte("token/balance:")
	tokenSupplyPrefix  = []byte("token/supply:")
	eventSequenceKey   = ethcrypto.Keccak256([]byte("events/sequence"))
)

func collateralKey(addr []byte, asset string) []byte {
	buf := make([]byte, 0, len(collateralPrefix)+len(asset)+1+len(addr))
	buf = append(buf, collateralPrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func debtKey(addr []byte) []byte {
	buf := make([]byte, 0, len(debtPrefix)+len(addr))
	buf = append(buf, debtPrefix...)
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func tokenBalanceKey(symbol string, addr []byte) []byte {
	buf := make([]byte, 0, len(tokenBalancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, tokenBalancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func tokenSupplyKey(symbol string) []byte {
	buf := make([]byte, 0, len(tokenSupplyPrefix)+len(symbol))
	buf = append(buf, tokenSupplyPrefix...)
	buf = append(buf, symbol...)
	return ethcrypto.Keccak256(buf)
}
