package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"deltavault/chain"
)

type captured struct {
	method  string
	path    string
	query   string
	auth    string
	idemKey string
	body    map[string]any
}

func newTestAPI(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		got.idemKey = r.Header.Get("Idempotency-Key")
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMetricsCommandRequestsCachedSnapshot(t *testing.T) {
	srv, got := newTestAPI(t, http.StatusOK, `{"success":true,"data":{"totalSupply":1000},"partial":false}`)
	out, err := run(t, "--api", srv.URL, "metrics", "--cached")
	require.NoError(t, err)
	require.Equal(t, "/api/metrics", got.path)
	require.Equal(t, "cached=true", got.query)
	require.Contains(t, out, `"totalSupply": 1000`)
}

func TestPoolsCreateSendsInlineJSON(t *testing.T) {
	srv, got := newTestAPI(t, http.StatusCreated, `{"id":"abc"}`)
	_, err := run(t, "--api", srv.URL, "pools", "create", `{"token0":"USDC","feeTier":0.3}`)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/api/pools", got.path)
	require.Equal(t, "USDC", got.body["token0"])
}

func TestPoolsCreateRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestAPI(t, http.StatusCreated, `{}`)
	_, err := run(t, "--api", srv.URL, "pools", "create", `{not json`)
	require.ErrorContains(t, err, "not valid JSON")
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	srv, _ := newTestAPI(t, http.StatusNotFound, `{"error":"Pool not found"}`)
	_, err := run(t, "--api", srv.URL, "pools", "get", "missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "Pool not found", apiErr.Message)
}

func TestOpsCommandSendsTokenAndIdempotencyKey(t *testing.T) {
	srv, got := newTestAPI(t, http.StatusOK, `{"method":"rebalance"}`)
	_, err := run(t, "--api", srv.URL, "--token", "tok", "--idempotency-key", "k-1", "ops", "rebalance")
	require.NoError(t, err)
	require.Equal(t, "/ops/rebalance", got.path)
	require.Equal(t, "Bearer tok", got.auth)
	require.Equal(t, "k-1", got.idemKey)
}

func TestPermitCommandOmitsEmptyFields(t *testing.T) {
	srv, got := newTestAPI(t, http.StatusOK, `{"digest":"0x01"}`)
	_, err := run(t, "--api", srv.URL, "permit", "--owner", "0xabc", "--amount", "12.5")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"owner": "0xabc", "amount": "12.5"}, got.body)
}

func TestImportKeystoreRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "keys", "operator.keystore")
	env := map[string]string{"PRIVATE_KEY": "0x" + hex.EncodeToString(crypto.FromECDSA(key))}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	in := keystoreImport{keyEnv: "PRIVATE_KEY", out: out, light: true}

	address, err := importKeystore(in, lookup, "pass")
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), address)

	signer, err := chain.LoadKeystore(out, "pass")
	require.NoError(t, err)
	require.Equal(t, address, signer.Address().Hex())

	_, err = importKeystore(in, lookup, "pass")
	require.ErrorContains(t, err, "already exists")

	in.force = true
	_, err = importKeystore(in, lookup, "other")
	require.NoError(t, err)
}

func TestImportKeystoreRejectsBadKey(t *testing.T) {
	in := keystoreImport{keyEnv: "PRIVATE_KEY", out: filepath.Join(t.TempDir(), "k"), light: true}
	_, err := importKeystore(in, func(string) (string, bool) { return "", false }, "pass")
	require.ErrorContains(t, err, "not set")

	_, err = importKeystore(in, func(string) (string, bool) { return "0xzz", true }, "pass")
	require.ErrorContains(t, err, "invalid private key encoding")
}
