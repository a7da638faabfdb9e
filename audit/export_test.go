package audit

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zusd/native/vault"
)

func TestExportLiquidationsWritesAllRows(t *testing.T) {
	store := openTestStore(t)
	alice := testAddr(t, 1)
	bob := testAddr(t, 2)

	early := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	require.NoError(t, store.Record(liquidationEnvelope(t, 1, alice, bob, early)))
	deposit := vault.CollateralDeposited{Account: alice, Asset: "WETH", Amount: big.NewInt(10), Time: early}
	require.NoError(t, store.Record(envelopeFor(2, deposit, early)))
	require.NoError(t, store.Record(liquidationEnvelope(t, 3, alice, bob, late)))

	path := filepath.Join(t.TempDir(), "liquidations.parquet")
	rows, err := store.ExportLiquidations(path, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, rows, "deposit events must not be exported")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportLiquidationsHonoursWindow(t *testing.T) {
	store := openTestStore(t)
	alice := testAddr(t, 1)
	bob := testAddr(t, 2)

	early := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	require.NoError(t, store.Record(liquidationEnvelope(t, 1, alice, bob, early)))
	require.NoError(t, store.Record(liquidationEnvelope(t, 2, alice, bob, late)))

	path := filepath.Join(t.TempDir(), "window.parquet")
	rows, err := store.ExportLiquidations(path, time.Time{}, early.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, rows)
}

func TestExportLiquidationsRequiresPath(t *testing.T) {
	store := openTestStore(t)
	_, err := store.ExportLiquidations("   ", time.Time{}, time.Time{})
	require.Error(t, err)
}
