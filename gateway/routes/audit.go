package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	sdk "zusd/sdk/zusd"
)

// auditRoutes exposes the audit trail reads. The window and sequence checks
// happen here so malformed queries never reach the daemon.
type auditRoutes struct {
	client  *sdk.Client
	timeout time.Duration
}

func newAuditRoutes(client *sdk.Client, timeout time.Duration) *auditRoutes {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &auditRoutes{client: client, timeout: timeout}
}

func (ar *auditRoutes) mount(r chi.Router, guard scopeGuard) {
	read := guard(ScopeAuditRead)

	r.With(read).Get("/activity/{address}", ar.activity)
	r.With(read).Get("/liquidations", ar.liquidations)
	r.With(read).Get("/liquidations/{sequence}/verify", ar.verify)
}

func (ar *auditRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := ar.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

func (ar *auditRoutes) activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	address := chi.URLParam(r, "address")

	ctx, cancel := ar.context(r.Context())
	defer cancel()

	events, err := ar.client.RecentActivity(ctx, address, limit)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if events == nil {
		events = []sdk.ActivityEntry{}
	}
	writeJSON(w, map[string]interface{}{"address": address, "events": events})
}

func (ar *auditRoutes) liquidations(w http.ResponseWriter, r *http.Request) {
	start, err := parseWindowTime(r.URL.Query().Get("start"), "start")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	end, err := parseWindowTime(r.URL.Query().Get("end"), "end")
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	ctx, cancel := ar.context(r.Context())
	defer cancel()

	liquidations, err := ar.client.Liquidations(ctx, start, end)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if liquidations == nil {
		liquidations = []sdk.LiquidationEntry{}
	}
	writeJSON(w, map[string]interface{}{"liquidations": liquidations})
}

func (ar *auditRoutes) verify(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "sequence"))
	sequence, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || sequence == 0 {
		writeBadRequest(w, errors.New("sequence must be a positive integer"))
		return
	}

	ctx, cancel := ar.context(r.Context())
	defer cancel()

	result, err := ar.client.VerifyLiquidation(ctx, sequence)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, result)
}

// parseWindowTime accepts an empty value as an open window end.
func parseWindowTime(raw, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s timestamp: must be RFC 3339", field)
	}
	return parsed, nil
}
