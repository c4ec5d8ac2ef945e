package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"deltavault/observability/logging"
	"deltavault/services/vaultgw/config"
)

func TestStartupFieldsRedactSecrets(t *testing.T) {
	var cfg config.Config
	cfg.Environment = "prod"
	cfg.ListenAddress = ":8085"
	cfg.RPCURL = "https://base.example/v2/secret-key"
	cfg.Contracts.Vault = "0x00000000000000000000000000000000000000a1"
	cfg.Auth.HMACSecret = "hunter2"

	got := map[string]string{}
	for _, field := range startupFields(cfg) {
		attr := field.(slog.Attr)
		got[attr.Key] = attr.Value.String()
	}
	require.Equal(t, "prod", got["env"])
	require.Equal(t, ":8085", got["listen"])
	require.Equal(t, cfg.Contracts.Vault, got["vault"])
	require.Equal(t, logging.RedactedValue, got["rpc_url"])
	require.Equal(t, logging.RedactedValue, got["jwt_secret"])
	require.Equal(t, "", got["keystore_path"])
}
