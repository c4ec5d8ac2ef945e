package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"deltavault/gateway/middleware"
	"deltavault/observability/logging"
)

// Duration wraps time.Duration to accept human readable strings in YAML and
// TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultgw.
type Config struct {
	ListenAddress string                          `yaml:"listen" toml:"listen"`
	Environment   string                          `yaml:"env" toml:"env"`
	RPCURL        string                          `yaml:"rpc_url" toml:"rpc_url"`
	DatabaseURL   string                          `yaml:"database_url" toml:"database_url"`
	Contracts     ContractsConfig                 `yaml:"contracts" toml:"contracts"`
	Metrics       MetricsConfig                   `yaml:"metrics" toml:"metrics"`
	Permit        PermitConfig                    `yaml:"permit" toml:"permit"`
	Operator      OperatorConfig                  `yaml:"operator" toml:"operator"`
	Setup         SetupConfig                     `yaml:"setup" toml:"setup"`
	Export        ExportConfig                    `yaml:"export" toml:"export"`
	Auth          middleware.AuthConfig           `yaml:"auth" toml:"auth"`
	CORS          middleware.CORSConfig           `yaml:"cors" toml:"cors"`
	RateLimits    map[string]middleware.RateLimit `yaml:"rate_limits" toml:"rate_limits"`
	Logging       logging.FileConfig              `yaml:"logging" toml:"logging"`
}

// ContractsConfig lists deployed contract addresses. Only the vault is
// mandatory; routes for absent contracts answer 503.
type ContractsConfig struct {
	Vault       string `yaml:"vault" toml:"vault"`
	USDC        string `yaml:"usdc" toml:"usdc"`
	Operator    string `yaml:"operator" toml:"operator"`
	Rebalancer  string `yaml:"rebalancer" toml:"rebalancer"`
	Factory     string `yaml:"factory" toml:"factory"`
	Periphery   string `yaml:"periphery" toml:"periphery"`
	EVC         string `yaml:"evc" toml:"evc"`
	DeltaHedger string `yaml:"delta_hedger" toml:"delta_hedger"`
}

// MetricsConfig tunes the metric poller.
type MetricsConfig struct {
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
	CallTimeout  Duration `yaml:"call_timeout" toml:"call_timeout"`
	Retention    Duration `yaml:"retention" toml:"retention"`
}

// PermitConfig controls permit deadlines.
type PermitConfig struct {
	TTL Duration `yaml:"ttl" toml:"ttl"`
}

// OperatorConfig points at the server-side signing key. Operator routes are
// disabled when KeystorePath is empty.
type OperatorConfig struct {
	KeystorePath  string   `yaml:"keystore" toml:"keystore"`
	PassphraseEnv string   `yaml:"passphrase_env" toml:"passphrase_env"`
	ReceiptPoll   Duration `yaml:"receipt_poll" toml:"receipt_poll"`
	GasHeadroom   int      `yaml:"gas_headroom_pct" toml:"gas_headroom_pct"`
	TxTimeout     Duration `yaml:"tx_timeout" toml:"tx_timeout"`
}

// SetupConfig carries defaults for the post-deployment workflow.
type SetupConfig struct {
	DefaultAmount   string `yaml:"default_amount" toml:"default_amount"`
	DefaultEthPrice string `yaml:"default_eth_price" toml:"default_eth_price"`
}

// ExportConfig schedules the daily parquet export of metric history.
type ExportConfig struct {
	Dir       string `yaml:"dir" toml:"dir"`
	RunHour   *int   `yaml:"run_hour" toml:"run_hour"`
	RunMinute *int   `yaml:"run_minute" toml:"run_minute"`
}

// Schedule returns the daily export time. Unset fields default to 01:00.
func (e ExportConfig) Schedule() (hour, minute int) {
	hour, minute = 1, 0
	if e.RunHour != nil {
		hour = *e.RunHour
	}
	if e.RunMinute != nil {
		minute = *e.RunMinute
	}
	return hour, minute
}

// Load reads configuration from path (YAML, or TOML when the extension is
// .toml), applies defaults and environment overrides, and validates it. An
// empty path loads from the environment only.
func Load(path string) (Config, error) {
	cfg := Config{}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		if err := decodeFile(trimmed, &cfg); err != nil {
			return cfg, err
		}
	}
	applyDefaults(&cfg)
	applyEnv(&cfg, os.Getenv)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8085"
	}
	if cfg.Metrics.PollInterval.Duration == 0 {
		cfg.Metrics.PollInterval.Duration = 15 * time.Second
	}
	if cfg.Metrics.CallTimeout.Duration == 0 {
		cfg.Metrics.CallTimeout.Duration = 5 * time.Second
	}
	if cfg.Metrics.Retention.Duration == 0 {
		cfg.Metrics.Retention.Duration = 30 * 24 * time.Hour
	}
	if cfg.Permit.TTL.Duration == 0 {
		cfg.Permit.TTL.Duration = time.Hour
	}
	if cfg.Operator.PassphraseEnv == "" {
		cfg.Operator.PassphraseEnv = "VAULTGW_KEYSTORE_PASS"
	}
	if cfg.Operator.ReceiptPoll.Duration == 0 {
		cfg.Operator.ReceiptPoll.Duration = 2 * time.Second
	}
	if cfg.Operator.GasHeadroom == 0 {
		cfg.Operator.GasHeadroom = 20
	}
	if cfg.Operator.TxTimeout.Duration == 0 {
		cfg.Operator.TxTimeout.Duration = 3 * time.Minute
	}
	if cfg.Setup.DefaultAmount == "" {
		cfg.Setup.DefaultAmount = "50000"
	}
	if cfg.Setup.DefaultEthPrice == "" {
		cfg.Setup.DefaultEthPrice = "3000"
	}
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(target *string, key string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*target = value
		}
	}
	set(&cfg.RPCURL, "RPC_URL")
	set(&cfg.Contracts.Vault, "CONTRACT_ADDRESS")
	set(&cfg.DatabaseURL, "VAULTGW_DB_URL")
	set(&cfg.ListenAddress, "VAULTGW_LISTEN")
	set(&cfg.Environment, "VAULTGW_ENV")
	set(&cfg.Auth.HMACSecret, "VAULTGW_JWT_SECRET")
	if cfg.Auth.HMACSecret != "" {
		cfg.Auth.Enabled = true
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("rpc_url (RPC_URL) must be configured")
	}
	if strings.TrimSpace(cfg.Contracts.Vault) == "" {
		return fmt.Errorf("contracts.vault (CONTRACT_ADDRESS) must be configured")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("database_url must be configured")
	}
	addresses := map[string]string{
		"contracts.vault":        cfg.Contracts.Vault,
		"contracts.usdc":         cfg.Contracts.USDC,
		"contracts.operator":     cfg.Contracts.Operator,
		"contracts.rebalancer":   cfg.Contracts.Rebalancer,
		"contracts.factory":      cfg.Contracts.Factory,
		"contracts.periphery":    cfg.Contracts.Periphery,
		"contracts.evc":          cfg.Contracts.EVC,
		"contracts.delta_hedger": cfg.Contracts.DeltaHedger,
	}
	for field, value := range addresses {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("%s: invalid address %q", field, value)
		}
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmac_secret must be configured when auth is enabled")
	}
	if strings.TrimSpace(cfg.Operator.KeystorePath) != "" && !cfg.Auth.Enabled {
		return fmt.Errorf("operator keystore requires auth to be enabled")
	}
	if hour, minute := cfg.Export.Schedule(); hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("export run time %02d:%02d out of range", hour, minute)
	}
	if cfg.CORS.AllowCredentials {
		if len(cfg.CORS.AllowedOrigins) == 0 || slices.Contains(cfg.CORS.AllowedOrigins, "*") {
			return fmt.Errorf("cors.allow_credentials requires an explicit allowed_origins list without \"*\"")
		}
	}
	return nil
}

// Address returns the parsed address for raw, or the zero address when unset.
func Address(raw string) common.Address {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}
	}
	return common.HexToAddress(strings.TrimSpace(raw))
}
