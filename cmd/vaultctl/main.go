package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultAPI     = "http://localhost:8085"
	defaultPassEnv = "VAULTGW_KEYSTORE_PASS"
)

type globalOptions struct {
	api            string
	token          string
	timeout        time.Duration
	idempotencyKey string
}

func (o *globalOptions) client() *apiClient {
	c := newAPIClient(o.api, o.token, o.timeout)
	c.idemKey = strings.TrimSpace(o.idempotencyKey)
	return c
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operate a delta-neutral vault through the vaultgw API",
		Long: `vaultctl reads vault metrics, manages pool records, builds permits and
relays signed transactions through a running vaultgw instance. It also
exports metric history and imports operator keys without a server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.api, "api", envOr("VAULTGW_API", defaultAPI), "vaultgw base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("VAULTGW_TOKEN"), "bearer token for /ops routes")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")
	root.PersistentFlags().StringVar(&opts.idempotencyKey, "idempotency-key", "", "Idempotency-Key header for operator calls")

	root.AddCommand(
		newMetricsCmd(opts),
		newPoolsCmd(opts),
		newPermitCmd(opts),
		newRelayCmd(opts),
		newOpsCmd(opts),
		newExportCmd(),
		newKeystoreCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
