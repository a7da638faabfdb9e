package rpc

import (
	"context"
	"math/big"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"zusd/audit"
)

// newAuditedFixture extends the RPC fixture with a live audit store following
// the event bus, the way the daemon runs it.
func newAuditedFixture(t *testing.T) (*rpcFixture, *audit.Store) {
	t.Helper()
	fix := newRPCFixture(t)

	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close audit store: %v", err)
		}
	})
	fix.server.SetAuditStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Follow(ctx, fix.bus, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return fix, store
}

func waitForSequence(t *testing.T, store *audit.Store, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		last, err := store.LastSequence()
		if err != nil {
			t.Fatalf("last sequence: %v", err)
		}
		if last >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("store stuck at sequence %d, want %d", last, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuditRecentActivityReflectsOperations(t *testing.T) {
	fix, store := newAuditedFixture(t)
	fix.seed(t, fix.account, e18(20))

	fix.mustCall(t, "vault_depositAndMint", vaultDepositAndMintParams{
		From:       fix.account.String(),
		Asset:      "WETH",
		Amount:     e18(10).String(),
		MintAmount: e18(5000).String(),
	}, nil)
	waitForSequence(t, store, 2)

	var activity auditActivityResult
	fix.mustCall(t, "audit_recentActivity", auditActivityParams{Address: fix.account.String()}, &activity)
	if len(activity.Events) != 2 {
		t.Fatalf("expected two recorded events, got %d", len(activity.Events))
	}
	// Newest first.
	if activity.Events[0].Type != "vault.zusd_minted" || activity.Events[1].Type != "vault.collateral_deposited" {
		t.Fatalf("unexpected event order: %s, %s", activity.Events[0].Type, activity.Events[1].Type)
	}
	minted := activity.Events[0]
	if minted.Account != fix.account.String() || minted.Amount != e18(5000).String() {
		t.Fatalf("unexpected mint entry: %+v", minted)
	}
	if minted.HealthFactor != e18(2).String() {
		t.Fatalf("expected recorded health factor 2e18, got %s", minted.HealthFactor)
	}
	if minted.OccurredAt == "" {
		t.Fatal("expected an RFC3339 occurredAt stamp")
	}

	status, reply := fix.call(t, testBearerToken, "audit_recentActivity", auditActivityParams{Address: "  "})
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeInvalidParams {
		t.Fatalf("expected blank address rejection, got %d %+v", status, reply.Error)
	}
}

func TestAuditLiquidationTrailVerifies(t *testing.T) {
	fix, store := newAuditedFixture(t)
	fix.seed(t, fix.account, e18(10))
	fix.seed(t, fix.keeper, e18(30))

	fix.mustCall(t, "vault_depositAndMint", vaultDepositAndMintParams{
		From:       fix.account.String(),
		Asset:      "WETH",
		Amount:     e18(10).String(),
		MintAmount: e18(10000).String(),
	}, nil)
	fix.mustCall(t, "vault_depositAndMint", vaultDepositAndMintParams{
		From:       fix.keeper.String(),
		Asset:      "WETH",
		Amount:     e18(20).String(),
		MintAmount: e18(6000).String(),
	}, nil)
	fix.feed.SetPrice(big.NewInt(1900_00000000), 8)

	var liquidation vaultLiquidateResult
	fix.mustCall(t, "vault_liquidate", vaultLiquidateParams{
		Liquidator:  fix.keeper.String(),
		Target:      fix.account.String(),
		Asset:       "WETH",
		DebtToCover: e18(5000).String(),
	}, &liquidation)
	waitForSequence(t, store, 5)

	var windowed auditLiquidationsResult
	fix.mustCall(t, "audit_liquidations", auditLiquidationsParams{}, &windowed)
	if len(windowed.Liquidations) != 1 {
		t.Fatalf("expected one settlement row, got %d", len(windowed.Liquidations))
	}
	row := windowed.Liquidations[0]
	if row.Type != "vault.position_liquidated" {
		t.Fatalf("unexpected row type %s", row.Type)
	}
	if row.Account != fix.account.String() || row.Counterparty != fix.keeper.String() {
		t.Fatalf("unexpected parties: %s vs %s", row.Account, row.Counterparty)
	}
	if row.DebtCovered != e18(5000).String() || row.CollateralSeized != liquidation.CollateralSeized {
		t.Fatalf("unexpected settlement amounts: %+v", row)
	}
	if !row.Verified {
		t.Fatal("recorded receipt should verify")
	}
	if row.SettledAt == "" {
		t.Fatal("expected a settlement timestamp")
	}

	var verdict auditVerifyResult
	fix.mustCall(t, "audit_verifyLiquidation", auditVerifyParams{Sequence: row.Sequence}, &verdict)
	if !verdict.Found || !verdict.Verified {
		t.Fatalf("expected found and verified, got %+v", verdict)
	}

	fix.mustCall(t, "audit_verifyLiquidation", auditVerifyParams{Sequence: 999}, &verdict)
	if verdict.Found || verdict.Verified {
		t.Fatalf("expected unknown sequence to report not found, got %+v", verdict)
	}

	// A window that excludes the settlement returns nothing.
	fix.mustCall(t, "audit_liquidations", auditLiquidationsParams{
		Start: "2001-01-01T00:00:00Z",
		End:   "2001-01-02T00:00:00Z",
	}, &windowed)
	if len(windowed.Liquidations) != 0 {
		t.Fatalf("expected empty window, got %d rows", len(windowed.Liquidations))
	}

	status, reply := fix.call(t, testBearerToken, "audit_liquidations", auditLiquidationsParams{Start: "yesterday"})
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeInvalidParams {
		t.Fatalf("expected timestamp rejection, got %d %+v", status, reply.Error)
	}
}

func TestAuditMethodsRequireStore(t *testing.T) {
	fix := newRPCFixture(t)

	status, reply := fix.call(t, testBearerToken, "audit_recentActivity", auditActivityParams{Address: fix.account.String()})
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500 without a store, got %d", status)
	}
	if reply.Error == nil || reply.Error.Code != codeServerError {
		t.Fatalf("expected server error, got %+v", reply.Error)
	}
}
