package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"zusd/observability/logging"
)

func TestBearerTokenLogRedactsValue(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	secret := "zusd-prod-bearer-53cr3t"
	logger.Info("RPC bearer token loaded", logging.MaskField("rpc_token", secret))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}

	if logging.IsAllowlisted("rpc_token") {
		t.Fatalf("rpc_token must never be allowlisted: %v", logging.RedactionAllowlist())
	}

	if bytes.Contains(buf.Bytes(), []byte(secret)) {
		t.Fatalf("log output leaked the bearer token: %s", buf.Bytes())
	}

	value, ok := entry["rpc_token"].(string)
	if !ok {
		t.Fatalf("expected string rpc_token attribute, got %T", entry["rpc_token"])
	}
	if value != logging.RedactedValue {
		t.Fatalf("expected redacted token, got %q", value)
	}
}
