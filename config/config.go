package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	nativecommon "zusd/native/common"
	"zusd/native/vault"
)

// Config is the daemon configuration loaded from zusd.toml.
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	NetworkName          string `toml:"NetworkName"`
	Environment          string `toml:"Environment"`
	RPCReadHeaderTimeout uint64 `toml:"RPCReadHeaderTimeout"`
	RPCReadTimeout       uint64 `toml:"RPCReadTimeout"`
	RPCWriteTimeout      uint64 `toml:"RPCWriteTimeout"`
	RPCIdleTimeout       uint64 `toml:"RPCIdleTimeout"`
	RPCRequestsPerMinute uint32 `toml:"RPCRequestsPerMinute"`
	// RPCTLSCertFile and RPCTLSKeyFile enable HTTPS on the RPC listener.
	// Without them the daemon refuses to start unless RPCAllowInsecure is
	// set and the listen address is loopback.
	RPCTLSCertFile       string   `toml:"RPCTLSCertFile"`
	RPCTLSKeyFile        string   `toml:"RPCTLSKeyFile"`
	RPCAllowInsecure     bool     `toml:"RPCAllowInsecure"`
	RPCTrustedProxies    []string `toml:"RPCTrustedProxies"`
	RPCTrustProxyHeaders bool     `toml:"RPCTrustProxyHeaders"`

	Engine     EngineConfig       `toml:"engine"`
	Collateral []CollateralConfig `toml:"collateral"`
	Oracle     OracleConfig       `toml:"oracle"`
	Events     EventsConfig       `toml:"events"`
	Audit      AuditConfig        `toml:"audit"`
	Pauses     PausesConfig       `toml:"pauses"`
}

// EngineConfig carries the vault risk knobs.
type EngineConfig struct {
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	// MinHealthFactor overrides the 1e18 liquidation boundary. Accepts
	// plain integers and scientific notation such as "1e18". Empty keeps
	// the engine default.
	MinHealthFactor string `toml:"MinHealthFactor"`
}

// Params converts the section into validated engine risk parameters.
func (e EngineConfig) Params() (vault.RiskParams, error) {
	params := vault.RiskParams{
		LiquidationThresholdBps: e.LiquidationThresholdBps,
		LiquidationBonusBps:     e.LiquidationBonusBps,
	}
	if err := params.Validate(); err != nil {
		return vault.RiskParams{}, err
	}
	return params, nil
}

// MinHealth parses the configured boundary; nil means keep the default.
func (e EngineConfig) MinHealth() (*big.Int, error) {
	if strings.TrimSpace(e.MinHealthFactor) == "" {
		return nil, nil
	}
	value, err := parseAmount(e.MinHealthFactor)
	if err != nil {
		return nil, fmt.Errorf("invalid engine.MinHealthFactor: %w", err)
	}
	if value.Sign() == 0 {
		return nil, fmt.Errorf("invalid engine.MinHealthFactor: must be positive")
	}
	return value, nil
}

// CollateralConfig declares one accepted collateral market.
type CollateralConfig struct {
	Symbol string `toml:"Symbol"`
	Feed   string `toml:"Feed"`
	// CoinGeckoID names the upstream asset when the HTTP oracle is active.
	CoinGeckoID string `toml:"CoinGeckoID"`
	// Decimals is the feed's quote precision, at most 18.
	Decimals uint8 `toml:"Decimals"`
}

// OracleConfig controls price sourcing.
type OracleConfig struct {
	// Endpoint overrides the CoinGecko simple-price URL. Empty uses the
	// public endpoint.
	Endpoint string `toml:"Endpoint"`
	// Manual disables HTTP fetching; prices arrive through vault_setPrice.
	Manual                bool   `toml:"Manual"`
	CacheMaxAgeSeconds    uint64 `toml:"CacheMaxAgeSeconds"`
	RequestTimeoutSeconds uint64 `toml:"RequestTimeoutSeconds"`
}

// CacheMaxAge returns the last-good quote horizon.
func (o OracleConfig) CacheMaxAge() time.Duration {
	return time.Duration(o.CacheMaxAgeSeconds) * time.Second
}

// RequestTimeout returns the upstream HTTP budget.
func (o OracleConfig) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutSeconds) * time.Second
}

// EventsConfig bounds the in-memory event replay window.
type EventsConfig struct {
	HistoryLimit int `toml:"HistoryLimit"`
}

// AuditConfig controls the durable event store.
type AuditConfig struct {
	Enabled bool `toml:"Enabled"`
	// Path of the sqlite file; empty resolves to DataDir/audit.db.
	Path string `toml:"Path"`
}

// ResolvePath returns the audit database location under dataDir when no
// explicit path is configured.
func (a AuditConfig) ResolvePath(dataDir string) string {
	if strings.TrimSpace(a.Path) != "" {
		return a.Path
	}
	return filepath.Join(dataDir, "audit.db")
}

// PausesConfig switches modules off without restarting.
type PausesConfig struct {
	Vault bool `toml:"Vault"`
}

// View converts the section into the guard representation.
func (p PausesConfig) View() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{"vault": p.Vault}
}

const defaultConfigTemplate = `# zusd daemon configuration.
ListenAddress = ":8645"
DataDir = "./zusd-data"
NetworkName = "zusd-local"
Environment = "dev"

[engine]
# 5000 bps demands 200% over-collateralization; 1000 bps pays a 10% bonus.
LiquidationThresholdBps = 5000
LiquidationBonusBps = 1000

[[collateral]]
Symbol = "WETH"
Feed = "weth-usd"
CoinGeckoID = "ethereum"
Decimals = 8

[[collateral]]
Symbol = "WBTC"
Feed = "wbtc-usd"
CoinGeckoID = "wrapped-bitcoin"
Decimals = 8

[oracle]
Manual = false
CacheMaxAgeSeconds = 900
RequestTimeoutSeconds = 10

[events]
HistoryLimit = 2048

[audit]
Enabled = true
`

// Load reads the configuration from path, writing a default file first if
// none exists. Defaults are applied to omitted fields and the result is
// validated.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault persists the annotated template and loads it back, so the
// file an operator finds on disk is the one the daemon actually parsed.
func createDefault(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfigTemplate, cfg); err != nil {
		return nil, fmt.Errorf("config: decode default template: %w", err)
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./zusd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "zusd-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.RPCReadHeaderTimeout == 0 {
		cfg.RPCReadHeaderTimeout = 5
	}
	if cfg.RPCReadTimeout == 0 {
		cfg.RPCReadTimeout = 15
	}
	if cfg.RPCWriteTimeout == 0 {
		cfg.RPCWriteTimeout = 15
	}
	if cfg.RPCIdleTimeout == 0 {
		cfg.RPCIdleTimeout = 60
	}
	if cfg.RPCRequestsPerMinute == 0 {
		cfg.RPCRequestsPerMinute = 600
	}
	if cfg.Engine.LiquidationThresholdBps == 0 {
		cfg.Engine.LiquidationThresholdBps = 5000
	}
	if cfg.Engine.LiquidationBonusBps == 0 {
		cfg.Engine.LiquidationBonusBps = 1000
	}
	if len(cfg.Collateral) == 0 {
		cfg.Collateral = []CollateralConfig{{
			Symbol:      "WETH",
			Feed:        "weth-usd",
			CoinGeckoID: "ethereum",
			Decimals:    8,
		}}
	}
	for i := range cfg.Collateral {
		if cfg.Collateral[i].Decimals == 0 {
			cfg.Collateral[i].Decimals = 8
		}
	}
	if cfg.Oracle.CacheMaxAgeSeconds == 0 {
		cfg.Oracle.CacheMaxAgeSeconds = 900
	}
	if cfg.Oracle.RequestTimeoutSeconds == 0 {
		cfg.Oracle.RequestTimeoutSeconds = 10
	}
	if cfg.Events.HistoryLimit == 0 {
		cfg.Events.HistoryLimit = 2048
	}
}

// parseAmount accepts plain integers and scientific notation like "5e18".
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %q is not an integer", raw)
	}
	return new(big.Int).Set(rat.Num()), nil
}
