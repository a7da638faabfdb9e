package rpc

import (
	"fmt"
	"net/http"
	"time"

	"zusd/audit"
)

type auditActivityParams struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

type auditLiquidationsParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type auditVerifyParams struct {
	Sequence uint64 `json:"sequence"`
}

type auditActivityEntry struct {
	Sequence         uint64 `json:"sequence"`
	Type             string `json:"type"`
	Account          string `json:"account"`
	Counterparty     string `json:"counterparty,omitempty"`
	Asset            string `json:"asset,omitempty"`
	Amount           string `json:"amount,omitempty"`
	DebtCovered      string `json:"debtCovered,omitempty"`
	CollateralSeized string `json:"collateralSeized,omitempty"`
	HealthFactor     string `json:"healthFactor,omitempty"`
	Receipt          string `json:"receipt,omitempty"`
	OccurredAt       string `json:"occurredAt"`
	SettledAt        string `json:"settledAt,omitempty"`
}

type auditActivityResult struct {
	Address string               `json:"address"`
	Events  []auditActivityEntry `json:"events"`
}

type auditLiquidationEntry struct {
	auditActivityEntry
	Verified bool `json:"verified"`
}

type auditLiquidationsResult struct {
	Liquidations []auditLiquidationEntry `json:"liquidations"`
}

type auditVerifyResult struct {
	Sequence uint64 `json:"sequence"`
	Found    bool   `json:"found"`
	Verified bool   `json:"verified"`
}

func activityEntryFrom(rec audit.EventRecord) auditActivityEntry {
	entry := auditActivityEntry{
		Sequence:         rec.Sequence,
		Type:             rec.Type,
		Account:          rec.Account,
		Counterparty:     rec.Counterparty,
		Asset:            rec.Asset,
		Amount:           rec.Amount,
		DebtCovered:      rec.DebtCovered,
		CollateralSeized: rec.Seized,
		HealthFactor:     rec.HealthFactor,
		Receipt:          rec.Receipt,
		OccurredAt:       rec.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.SettledAt != 0 {
		entry.SettledAt = time.Unix(0, rec.SettledAt).UTC().Format(time.RFC3339Nano)
	}
	return entry
}

func (s *Server) handleAuditRecentActivity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input auditActivityParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	records, modErr := s.audit.RecentActivity(input.Address, input.Limit)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	result := auditActivityResult{Address: input.Address, Events: make([]auditActivityEntry, len(records))}
	for i, rec := range records {
		result.Events[i] = activityEntryFrom(rec)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAuditLiquidations(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input auditLiquidationsParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	start, err := parseAuditTime(input.Start, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	end, err := parseAuditTime(input.End, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	records, verified, modErr := s.audit.Liquidations(start, end)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	result := auditLiquidationsResult{Liquidations: make([]auditLiquidationEntry, len(records))}
	for i, rec := range records {
		result.Liquidations[i] = auditLiquidationEntry{
			auditActivityEntry: activityEntryFrom(rec),
			Verified:           verified[i],
		}
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAuditVerifyLiquidation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input auditVerifyParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if input.Sequence == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "sequence required", nil)
		return
	}
	verified, found, modErr := s.audit.VerifyLiquidation(input.Sequence)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, auditVerifyResult{Sequence: input.Sequence, Found: found, Verified: verified})
}

// parseAuditTime accepts an empty string as the open end of a window.
func parseAuditTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s timestamp: %s", field, err.Error())
	}
	return parsed, nil
}
