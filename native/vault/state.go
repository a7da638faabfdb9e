package vault

import "math/big"

// State is the persistence surface the engine requires. Mutating operations
// take a snapshot up front, apply every balance effect through the setters
// and either commit the batch or revert it wholesale. Implementations must
// guarantee that a revert restores every write made after the snapshot.
type State interface {
	CollateralBalance(addr []byte, asset string) (*big.Int, error)
	SetCollateralBalance(addr []byte, asset string, amount *big.Int) error
	DebtBalance(addr []byte) (*big.Int, error)
	SetDebtBalance(addr []byte, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(revision int)
	Commit() error
}
