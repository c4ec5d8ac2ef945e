package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"deltavault/chain"
	"deltavault/chain/chaintest"
)

func TestTransactorExecuteSignsDynamicFeeTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	backend := chaintest.New(8453)
	backend.Nonce = 7
	signer := chain.NewKeySigner(key)

	tr, err := chain.NewTransactor(context.Background(), backend, signer, chain.WithReceiptPoll(time.Millisecond))
	require.NoError(t, err)

	req, err := chain.NewRebalancer(rebalancerAddr, nil).RebalanceTx()
	require.NoError(t, err)
	receipt, err := tr.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, gethtypes.ReceiptStatusSuccessful, receipt.Status)

	sent := backend.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Equal(t, uint8(gethtypes.DynamicFeeTxType), tx.Type())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(120_000), tx.Gas())
	require.Equal(t, "2100000000", tx.GasFeeCap().String())
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), from)
}

func TestTransactorRevertedReceipt(t *testing.T) {
	key, _ := crypto.GenerateKey()
	backend := chaintest.New(1)
	backend.RevertMethod(chain.OperatorABI, "renounceOwnership")
	tr, err := chain.NewTransactor(context.Background(), backend, chain.NewKeySigner(key), chain.WithReceiptPoll(time.Millisecond))
	require.NoError(t, err)

	req, _ := chain.NewOperator(operatorAddr, nil).RenounceOwnershipTx()
	_, err = tr.Execute(context.Background(), req)
	if !errors.Is(err, chain.ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
}

func TestWaitMinedHonoursContext(t *testing.T) {
	backend := chaintest.New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := chain.WaitMined(ctx, backend, common.Hash{1}, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func signedRaw(t *testing.T, chainID int64) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := vaultAddr
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(big.NewInt(chainID)), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw), crypto.PubkeyToAddress(key.PublicKey)
}

func TestRelayRawBroadcastsWalletTx(t *testing.T) {
	backend := chaintest.New(1)
	raw, from := signedRaw(t, 1)

	result, err := chain.RelayRaw(context.Background(), backend, big.NewInt(1), raw)
	require.NoError(t, err)
	require.Equal(t, from, result.From)
	require.Equal(t, uint64(3), result.Nonce)
	require.Len(t, backend.Sent(), 1)
}

func TestRelayRawRejectsForeignChain(t *testing.T) {
	backend := chaintest.New(1)
	raw, _ := signedRaw(t, 5)
	_, err := chain.RelayRaw(context.Background(), backend, nil, raw)
	require.ErrorIs(t, err, chain.ErrChainMismatch)
	require.Empty(t, backend.Sent())

	_, err = chain.RelayRaw(context.Background(), backend, nil, "0xzz")
	require.Error(t, err)
}
