package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UpstreamConfig points the gateway at the zusd daemon's JSON-RPC listener.
// AuthTokenEnv names the environment variable holding the bearer token for
// guarded vault methods; the token itself never appears in the YAML file.
type UpstreamConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	AuthTokenEnv string        `yaml:"authTokenEnv"`
}

type RateLimitConfig struct {
	ID                string         `yaml:"id"`
	RequestsPerMinute float64        `yaml:"requestsPerMinute"`
	RatePerSecond     float64        `yaml:"ratePerSecond"`
	Burst             int            `yaml:"burst"`
	DefaultTokens     int            `yaml:"defaultTokens"`
	Tokens            map[string]int `yaml:"tokens"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	Environment   string              `yaml:"environment"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
}

type AuthConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HMACSecret        string        `yaml:"hmacSecret"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	ScopeClaim        string        `yaml:"scopeClaim"`
	OptionalPaths     []string      `yaml:"optionalPaths"`
	AllowAnonymous    bool          `yaml:"allowAnonymous"`
	ClockSkew         time.Duration `yaml:"clockSkew"`
	allowAnonymousSet bool          `yaml:"-"`
	enabledSet        bool          `yaml:"-"`
}

// UnmarshalYAML tracks which auth toggles the operator set explicitly. A
// deployment that carries TLS material must opt in or out of auth on purpose
// rather than inherit a default silently.
func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Enabled        *bool         `yaml:"enabled"`
		HMACSecret     string        `yaml:"hmacSecret"`
		Issuer         string        `yaml:"issuer"`
		Audience       string        `yaml:"audience"`
		ScopeClaim     string        `yaml:"scopeClaim"`
		OptionalPaths  []string      `yaml:"optionalPaths"`
		AllowAnonymous *bool         `yaml:"allowAnonymous"`
		ClockSkew      time.Duration `yaml:"clockSkew"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*a = AuthConfig{
		HMACSecret:    raw.HMACSecret,
		Issuer:        raw.Issuer,
		Audience:      raw.Audience,
		ScopeClaim:    raw.ScopeClaim,
		OptionalPaths: raw.OptionalPaths,
		ClockSkew:     raw.ClockSkew,
	}
	if raw.Enabled != nil {
		a.Enabled, a.enabledSet = *raw.Enabled, true
	}
	if raw.AllowAnonymous != nil {
		a.AllowAnonymous, a.allowAnonymousSet = *raw.AllowAnonymous, true
	}
	return nil
}

type SecurityConfig struct {
	AutoUpgradeHTTP bool   `yaml:"autoUpgradeHTTP"`
	AllowInsecure   bool   `yaml:"allowInsecure"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	TLSClientCAFile string `yaml:"tlsClientCAFile"`
}

// Load reads the gateway YAML file, overlaying it on the built-in defaults.
// An empty path yields the defaults alone, which target a local daemon.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		ListenAddress: ":8745",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Upstream: UpstreamConfig{
			Endpoint:     "http://127.0.0.1:8645",
			Timeout:      10 * time.Second,
			AuthTokenEnv: "ZUSD_RPC_TOKEN",
		},
		Observability: ObservabilityConfig{
			ServiceName:   "zusd-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "zusd_gateway",
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
			enabledSet: true,
		},
	}
}

func (cfg *Config) applyDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if !cfg.Auth.allowAnonymousSet {
		cfg.Auth.AllowAnonymous = false
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Upstream.AuthTokenEnv) == "" {
		cfg.Upstream.AuthTokenEnv = "ZUSD_RPC_TOKEN"
	}
}

var ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set for sensitive deployments")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Upstream.Endpoint) == "" {
		return fmt.Errorf("upstream.endpoint is required")
	}
	if _, err := cfg.Upstream.URL(); err != nil {
		return err
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.AllowAnonymous && !cfg.Auth.allowAnonymousSet {
		return fmt.Errorf("auth.allowAnonymous must be explicitly set to true to enable anonymous access")
	}
	for i, path := range cfg.Auth.OptionalPaths {
		p := strings.TrimSpace(path)
		switch {
		case p == "":
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		case !strings.HasPrefix(p, "/"):
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		cfg.Auth.OptionalPaths[i] = p
	}
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("rateLimits[%d].id %q duplicated", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (u UpstreamConfig) URL() (*url.URL, error) {
	endpoint := strings.TrimSpace(u.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("upstream endpoint missing")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse upstream endpoint: %w", err)
	}
	return parsed, nil
}

// AuthToken resolves the daemon bearer token from the configured environment
// variable. Empty when the variable is unset.
func (u UpstreamConfig) AuthToken() string {
	name := strings.TrimSpace(u.AuthTokenEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	sec := cfg.Security
	return sec.AutoUpgradeHTTP ||
		strings.TrimSpace(sec.TLSCertFile) != "" ||
		strings.TrimSpace(sec.TLSKeyFile) != "" ||
		strings.TrimSpace(sec.TLSClientCAFile) != ""
}

// EnforceSecureScheme ensures the supplied URL uses HTTPS outside of the dev
// environment. With autoUpgrade, plaintext HTTP URLs are rewritten to HTTPS;
// the boolean reports whether that happened.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	switch scheme := strings.ToLower(strings.TrimSpace(target.Scheme)); scheme {
	case "https":
		return target, false, nil
	case "http":
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
	if isDevEnv(env) {
		return target, false, nil
	}
	if autoUpgrade {
		upgraded := *target
		upgraded.Scheme = "https"
		return &upgraded, true, nil
	}
	if strings.TrimSpace(env) == "" {
		env = "(unset)"
	}
	return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}
