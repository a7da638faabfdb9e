package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the placeholder written in place of sensitive log values.
const RedactedValue = "[REDACTED]"

// Keys carrying one of these markers are always masked, allowlist or not.
// Bearer tokens, keystore passphrases and signing secrets pass through flag
// and env plumbing on their way to log call sites and must never land in
// aggregated logs.
var sensitiveMarkers = []string{
	"token",
	"secret",
	"passphrase",
	"password",
	"authorization",
	"credential",
}

// Public vault vocabulary that log pipelines may index verbatim.
var redactionAllowlist = []string{
	"account",
	"address",
	"amount",
	"asset",
	"component",
	"env",
	"error",
	"event",
	"feed",
	"message",
	"method",
	"module",
	"operation",
	"reason",
	"service",
	"severity",
	"timestamp",
}

// IsSensitiveKey reports whether the key names a credential-bearing value.
func IsSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// IsAllowlisted reports whether the key may be logged without masking.
func IsAllowlisted(key string) bool {
	if IsSensitiveKey(key) {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, allowed := range redactionAllowlist {
		if normalized == allowed {
			return true
		}
	}
	return false
}

// RedactionAllowlist returns the keys exempt from masking, sorted for stable
// assertions.
func RedactionAllowlist() []string {
	keys := append([]string(nil), redactionAllowlist...)
	sort.Strings(keys)
	return keys
}

// MaskField builds a slog attribute whose value is masked unless the key is
// allowlisted. Empty values pass through so presence and absence stay
// distinguishable in the output.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
