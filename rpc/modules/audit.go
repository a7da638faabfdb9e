package modules

import (
	"net/http"
	"strings"
	"time"

	"zusd/audit"
)

// AuditModule exposes the durable event archive over RPC.
type AuditModule struct {
	store *audit.Store
}

func NewAuditModule(store *audit.Store) *AuditModule {
	return &AuditModule{store: store}
}

func (m *AuditModule) storeUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "audit store not available"}
}

// RecentActivity lists the newest recorded events involving an account,
// either as the acting party or as liquidation counterparty.
func (m *AuditModule) RecentActivity(account string, limit int) ([]audit.EventRecord, *ModuleError) {
	if m == nil || m.store == nil {
		return nil, m.storeUnavailable()
	}
	if strings.TrimSpace(account) == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "account address required"}
	}
	rows, err := m.store.RecentActivity(account, limit)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	return rows, nil
}

// Liquidations returns the settlement rows inside the window together with a
// recomputed receipt verdict per row.
func (m *AuditModule) Liquidations(start, end time.Time) ([]audit.EventRecord, []bool, *ModuleError) {
	if m == nil || m.store == nil {
		return nil, nil, m.storeUnavailable()
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "window end precedes start"}
	}
	rows, err := m.store.Liquidations(start, end)
	if err != nil {
		return nil, nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	verified := make([]bool, len(rows))
	for i := range rows {
		verified[i] = m.store.VerifyRecord(rows[i])
	}
	return rows, verified, nil
}

// VerifyLiquidation recomputes the receipt digest for one recorded
// settlement. The middle return reports whether the sequence exists at all.
func (m *AuditModule) VerifyLiquidation(sequence uint64) (bool, bool, *ModuleError) {
	if m == nil || m.store == nil {
		return false, false, m.storeUnavailable()
	}
	rec, found, err := m.store.BySequence(sequence)
	if err != nil {
		return false, false, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	if !found {
		return false, false, nil
	}
	return m.store.VerifyRecord(rec), true, nil
}
