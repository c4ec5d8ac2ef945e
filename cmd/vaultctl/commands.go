package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"deltavault/chain"
	"deltavault/chain/permit"
	"deltavault/cmd/internal/passphrase"
)

func newMetricsCmd(opts *globalOptions) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the current vault metrics snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if cached {
				query.Set("cached", "true")
			}
			raw, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/metrics", query, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "serve the poller's last snapshot instead of reading the chain")

	var (
		since string
		limit int
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "List recorded metric snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if since != "" {
				query.Set("since", since)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			raw, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/metrics/history", query, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	history.Flags().StringVar(&since, "since", "", "RFC3339 time or unix milliseconds")
	history.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	cmd.AddCommand(history)
	return cmd
}

func newPoolsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Manage pool records",
	}

	var sortBy, owner, feeTier string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			for key, value := range map[string]string{"sort": sortBy, "owner": owner, "feeTier": feeTier} {
				if value != "" {
					query.Set(key, value)
				}
			}
			raw, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/pools", query, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	list.Flags().StringVar(&sortBy, "sort", "", "order by tvl or apr")
	list.Flags().StringVar(&owner, "owner", "", "filter by owner")
	list.Flags().StringVar(&feeTier, "fee-tier", "", "filter by fee tier")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a pool and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/pools/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	var file string
	create := &cobra.Command{
		Use:   "create [json]",
		Short: "Create a pool from inline JSON or --file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(args, file)
			if err != nil {
				return err
			}
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/pools", nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "", "read the pool JSON from a file")

	update := &cobra.Command{
		Use:   "update <id> [json]",
		Short: "Patch a pool from inline JSON or --file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(args[1:], file)
			if err != nil {
				return err
			}
			raw, err := opts.client().do(cmd.Context(), http.MethodPut, "/api/pools/"+url.PathEscape(args[0]), nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	update.Flags().StringVarP(&file, "file", "f", "", "read the patch JSON from a file")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pool and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := opts.client().do(cmd.Context(), http.MethodDelete, "/api/pools/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

// readBody returns inline JSON from args or the contents of file.
func readBody(args []string, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		raw = data
	case len(args) == 1:
		raw = []byte(args[0])
	default:
		return nil, fmt.Errorf("provide JSON inline or with --file")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newPermitCmd(opts *globalOptions) *cobra.Command {
	var owner, token, spender, amount, deadline, keystorePath, passEnv string
	cmd := &cobra.Command{
		Use:   "permit",
		Short: "Build EIP-712 permit typed data, optionally signing it with a keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]string{"owner": owner, "amount": amount}
			for key, value := range map[string]string{"token": token, "spender": spender, "deadline": deadline} {
				if value != "" {
					body[key] = value
				}
			}
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/permit", nil, body)
			if err != nil {
				return err
			}
			if keystorePath == "" {
				return printJSON(cmd.OutOrStdout(), raw)
			}
			signed, err := signPermit(raw, owner, keystorePath, passEnv)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), signed)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "token holder address")
	cmd.Flags().StringVar(&amount, "amount", "", "allowance in USDC, e.g. 250.5")
	cmd.Flags().StringVar(&token, "token", "", "token address (defaults to the configured USDC)")
	cmd.Flags().StringVar(&spender, "spender", "", "spender address (defaults to the vault)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "unix seconds")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "sign the digest with this keystore (must hold the owner key)")
	cmd.Flags().StringVar(&passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// signPermit signs the digest of a built permit and returns the permit with
// its split signature attached.
func signPermit(raw json.RawMessage, owner, keystorePath, passEnv string) (json.RawMessage, error) {
	var built struct {
		Digest   common.Hash  `json:"digest"`
		Deadline *hexutil.Big `json:"deadline"`
	}
	if err := json.Unmarshal(raw, &built); err != nil {
		return nil, fmt.Errorf("decode permit: %w", err)
	}
	pass, err := passphrase.NewSource(passEnv, "owner keystore").Get()
	if err != nil {
		return nil, err
	}
	signer, err := chain.LoadKeystore(keystorePath, pass)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(signer.Address().Hex(), strings.TrimSpace(owner)) {
		return nil, fmt.Errorf("keystore holds %s, permit owner is %s", signer.Address().Hex(), owner)
	}
	sigBytes, err := signer.SignHash(built.Digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign permit: %w", err)
	}
	sig, err := permit.SplitSignature(sigBytes)
	if err != nil {
		return nil, err
	}
	sig.Deadline = built.Deadline
	return json.Marshal(map[string]any{"permit": raw, "signature": sig})
}

func newRelayCmd(opts *globalOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "relay <raw-tx-hex>",
		Short: "Broadcast a wallet-signed transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"rawTransaction": strings.TrimSpace(args[0]), "wait": wait}
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/tx/relay", nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the receipt")
	return cmd
}

func newOpsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Operator actions signed by the gateway key (requires --token)",
	}
	post := func(path string, body any) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			raw, err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		}
	}

	rebalance := &cobra.Command{
		Use:   "rebalance",
		Short: "Trigger the rebalancer",
		Args:  cobra.NoArgs,
		RunE:  post("/ops/rebalance", nil),
	}

	var amount string
	deposit := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit USDC from the operator account with a signed permit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/ops/deposit", map[string]string{"amount": amount})(cmd, args)
		},
	}
	deposit.Flags().StringVar(&amount, "amount", "", "USDC amount")
	_ = deposit.MarkFlagRequired("amount")

	var hedger, setupAmount, ethPrice string
	setup := &cobra.Command{
		Use:   "setup",
		Short: "Start the post-deployment setup workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			for key, value := range map[string]string{"deltaHedger": hedger, "amount": setupAmount, "ethPrice": ethPrice} {
				if value != "" {
					body[key] = value
				}
			}
			return post("/ops/setup", body)(cmd, args)
		},
	}
	setup.Flags().StringVar(&hedger, "delta-hedger", "", "delta hedger address (defaults to the configured one)")
	setup.Flags().StringVar(&setupAmount, "amount", "", "initial USDC deposit")
	setup.Flags().StringVar(&ethPrice, "eth-price", "", "initial ETH price in USDC")

	status := &cobra.Command{
		Use:   "setup-status <id>",
		Short: "Show a setup run and its transaction hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().do(cmd.Context(), http.MethodGet, "/ops/setup/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	resume := &cobra.Command{
		Use:   "setup-resume <id>",
		Short: "Resume a failed setup run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/ops/setup/"+url.PathEscape(args[0])+"/resume", nil)(cmd, args)
		},
	}

	cmd.AddCommand(rebalance, deposit, setup, status, resume)
	return cmd
}
