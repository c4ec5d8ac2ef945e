package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"RPC_URL", "CONTRACT_ADDRESS", "VAULTGW_DB_URL", "VAULTGW_LISTEN", "VAULTGW_ENV", "VAULTGW_JWT_SECRET"} {
		t.Setenv(key, "")
	}
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "vaultgw.yaml", `
rpc_url: https://mainnet.base.org
database_url: sqlite:/tmp/vaultgw.db
contracts:
  vault: "0x00000000000000000000000000000000000000a1"
metrics:
  call_timeout: 2s
rate_limits:
  wallet:
    rate_per_second: 2
    burst: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Metrics.PollInterval.Duration != 15*time.Second {
		t.Fatalf("expected default poll interval, got %s", cfg.Metrics.PollInterval)
	}
	if cfg.Metrics.CallTimeout.Duration != 2*time.Second {
		t.Fatalf("expected call timeout override, got %s", cfg.Metrics.CallTimeout)
	}
	if cfg.Permit.TTL.Duration != time.Hour {
		t.Fatalf("expected permit ttl of one hour, got %s", cfg.Permit.TTL)
	}
	if cfg.RateLimits["wallet"].Burst != 4 {
		t.Fatalf("rate limits not decoded: %+v", cfg.RateLimits)
	}
	if cfg.ListenAddress != ":8085" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "vaultgw.toml", `
rpc_url = "http://localhost:8545"
database_url = "postgres://app@localhost/vault"

[contracts]
vault = "0x00000000000000000000000000000000000000a1"
usdc = "0x00000000000000000000000000000000000000a2"

[metrics]
poll_interval = "30s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Metrics.PollInterval.Duration != 30*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Metrics.PollInterval)
	}
	if Address(cfg.Contracts.USDC).Hex() != "0x00000000000000000000000000000000000000A2" {
		t.Fatalf("unexpected usdc address %s", Address(cfg.Contracts.USDC).Hex())
	}
}

func TestLoadRequiresRPCAndVault(t *testing.T) {
	clearEnv(t)
	t.Setenv("VAULTGW_DB_URL", "sqlite:/tmp/x.db")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected missing RPC_URL to fail")
	}
	t.Setenv("RPC_URL", "http://localhost:8545")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected missing CONTRACT_ADDRESS to fail")
	}
	t.Setenv("CONTRACT_ADDRESS", "not-an-address")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected invalid vault address to fail")
	}
	t.Setenv("CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000a1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("env override not applied: %q", cfg.RPCURL)
	}
}

func TestKeystoreRequiresAuth(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "vaultgw.yaml", `
rpc_url: http://localhost:8545
database_url: sqlite:/tmp/vaultgw.db
contracts:
  vault: "0x00000000000000000000000000000000000000a1"
operator:
  keystore: /etc/vaultgw/operator.json
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected keystore without auth to fail")
	}
	t.Setenv("VAULTGW_JWT_SECRET", "secret")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected jwt secret to enable auth")
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExportScheduleAllowsMidnight(t *testing.T) {
	clearEnv(t)
	base := `
rpc_url: http://localhost:8545
database_url: sqlite:/tmp/vaultgw.db
contracts:
  vault: "0x00000000000000000000000000000000000000a1"
`
	cfg, err := Load(writeFile(t, "default.yaml", base))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hour, minute := cfg.Export.Schedule(); hour != 1 || minute != 0 {
		t.Fatalf("expected default 01:00, got %02d:%02d", hour, minute)
	}

	cfg, err = Load(writeFile(t, "midnight.yaml", base+`
export:
  dir: /var/lib/vaultgw
  run_hour: 0
  run_minute: 0
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hour, minute := cfg.Export.Schedule(); hour != 0 || minute != 0 {
		t.Fatalf("expected midnight, got %02d:%02d", hour, minute)
	}

	if _, err := Load(writeFile(t, "late.yaml", base+`
export:
  run_hour: 24
`)); err == nil {
		t.Fatalf("expected out of range hour to fail")
	}
}

func TestCredentialedCORSNeedsExplicitOrigins(t *testing.T) {
	clearEnv(t)
	base := `
rpc_url: http://localhost:8545
database_url: sqlite:/tmp/vaultgw.db
contracts:
  vault: "0x00000000000000000000000000000000000000a1"
`
	for name, cors := range map[string]string{
		"empty.yaml":    "cors:\n  allow_credentials: true\n",
		"wildcard.yaml": "cors:\n  allow_credentials: true\n  allowed_origins: [\"*\"]\n",
	} {
		if _, err := Load(writeFile(t, name, base+cors)); err == nil {
			t.Fatalf("%s: expected credentials with open origins to fail", name)
		}
	}
	cfg, err := Load(writeFile(t, "explicit.yaml", base+"cors:\n  allow_credentials: true\n  allowed_origins: [\"https://app.example\"]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.CORS.AllowCredentials {
		t.Fatalf("expected credentials to stay enabled")
	}
}
