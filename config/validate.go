package config

import (
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations the daemon could not run safely.
func ValidateConfig(cfg *Config) error {
	hasCert := strings.TrimSpace(cfg.RPCTLSCertFile) != ""
	hasKey := strings.TrimSpace(cfg.RPCTLSKeyFile) != ""
	if hasCert != hasKey {
		return fmt.Errorf("rpc: RPCTLSCertFile and RPCTLSKeyFile must be set together")
	}
	for i, proxy := range cfg.RPCTrustedProxies {
		if strings.TrimSpace(proxy) == "" {
			return fmt.Errorf("rpc: RPCTrustedProxies[%d] is empty", i)
		}
	}
	if _, err := cfg.Engine.Params(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if _, err := cfg.Engine.MinHealth(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if len(cfg.Collateral) == 0 {
		return fmt.Errorf("collateral: at least one asset is required")
	}
	seen := make(map[string]struct{}, len(cfg.Collateral))
	for i, entry := range cfg.Collateral {
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		if symbol == "" {
			return fmt.Errorf("collateral[%d]: Symbol is required", i)
		}
		if strings.TrimSpace(entry.Feed) == "" {
			return fmt.Errorf("collateral[%d]: Feed is required", i)
		}
		if !cfg.Oracle.Manual && strings.TrimSpace(entry.CoinGeckoID) == "" {
			return fmt.Errorf("collateral[%d]: CoinGeckoID is required unless oracle.Manual is set", i)
		}
		if entry.Decimals > 18 {
			return fmt.Errorf("collateral[%d]: Decimals must be at most 18", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("collateral[%d]: duplicate symbol %s", i, symbol)
		}
		seen[symbol] = struct{}{}
	}
	if cfg.Events.HistoryLimit < 0 {
		return fmt.Errorf("events: HistoryLimit must not be negative")
	}
	return nil
}
