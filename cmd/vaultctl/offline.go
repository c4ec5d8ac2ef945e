package main

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"deltavault/cmd/internal/passphrase"
	"deltavault/services/vaultgw/metrics"
	"deltavault/services/vaultgw/models"
)

func newExportCmd() *cobra.Command {
	var dsn, dir, since, until string
	cmd := &cobra.Command{
		Use:   "export-history",
		Short: "Write recorded metric snapshots in a window to a parquet file",
		Long: `export-history reads the metric_snapshots table directly and writes the
rows between --since and --until to a snappy-compressed parquet file in --dir.
It does not need a running gateway.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			end := time.Now().UTC()
			start := end.Add(-24 * time.Hour)
			var err error
			if since != "" {
				if start, err = time.Parse(time.RFC3339, since); err != nil {
					return fmt.Errorf("--since: %w", err)
				}
			}
			if until != "" {
				if end, err = time.Parse(time.RFC3339, until); err != nil {
					return fmt.Errorf("--until: %w", err)
				}
			}
			if !end.After(start) {
				return fmt.Errorf("--until must be after --since")
			}
			db, err := models.Open(dsn)
			if err != nil {
				return err
			}
			path, rows, err := metrics.NewExporter(metrics.NewHistory(db), dir).ExportWindow(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", rows, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "db", envOr("VAULTGW_DB_URL", ""), "database URL (postgres DSN or sqlite:<path>)")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	cmd.Flags().StringVar(&since, "since", "", "window start, RFC3339 (default 24h ago)")
	cmd.Flags().StringVar(&until, "until", "", "window end, RFC3339 (default now)")
	return cmd
}

type keystoreImport struct {
	keyEnv  string
	passEnv string
	out     string
	force   bool
	light   bool
}

func newKeystoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage the operator keystore",
	}
	in := keystoreImport{}
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Encrypt a plaintext private key into a keystore file",
		Long: `import reads a hex private key from --key-env (the PRIVATE_KEY variable
scripts commonly use), encrypts it with the passphrase from --pass-env or a
terminal prompt, and writes a Web3 Secret Storage file for operator.keystore.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := passphrase.NewSource(in.passEnv, "operator keystore").Get()
			if err != nil {
				return err
			}
			address, err := importKeystore(in, os.LookupEnv, pass)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote keystore for %s to %s\n", address, in.out)
			return nil
		},
	}
	importCmd.Flags().StringVar(&in.keyEnv, "key-env", "PRIVATE_KEY", "environment variable holding the hex private key")
	importCmd.Flags().StringVar(&in.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	importCmd.Flags().StringVar(&in.out, "out", "operator.keystore", "output path")
	importCmd.Flags().BoolVar(&in.force, "force", false, "overwrite an existing keystore file")
	importCmd.Flags().BoolVar(&in.light, "light", false, "use light scrypt parameters (testing only)")
	cmd.AddCommand(importCmd)
	return cmd
}

func importKeystore(in keystoreImport, lookup func(string) (string, bool), pass string) (string, error) {
	raw, ok := lookup(in.keyEnv)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", in.keyEnv)
	}
	key, err := parsePrivateKey(raw)
	if err != nil {
		return "", err
	}
	if !in.force {
		if _, err := os.Stat(in.out); err == nil {
			return "", fmt.Errorf("keystore file %s already exists (use --force to overwrite)", in.out)
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if in.light {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	encrypted, err := keystore.EncryptKey(&keystore.Key{Id: id, Address: address, PrivateKey: key}, pass, scryptN, scryptP)
	if err != nil {
		return "", fmt.Errorf("encrypt key: %w", err)
	}
	if dir := filepath.Dir(in.out); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(in.out, encrypted, 0o600); err != nil {
		return "", fmt.Errorf("failed to write keystore: %w", err)
	}
	return address.Hex(), nil
}

func parsePrivateKey(value string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	return crypto.ToECDSA(raw)
}
