package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"deltavault/chain"
	"deltavault/chain/chaintest"
)

var (
	vaultAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operatorAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	rebalancerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	poolAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	factoryAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a5")
)

type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }

func encodeRevert(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func TestVaultMetricsDecodesTuple(t *testing.T) {
	backend := chaintest.New(1)
	backend.Respond(vaultAddr, chain.VaultABI, "getVaultMetrics",
		big.NewInt(5e18), big.NewInt(5_000_000_000), big.NewInt(1e18), big.NewInt(3000e6), true, false)

	metrics, err := chain.NewVault(vaultAddr, backend).Metrics(context.Background())
	require.NoError(t, err)
	require.Equal(t, "5000000000", metrics.TotalAssets.String())
	require.Equal(t, "1000000000000000000", metrics.SharePrice.String())
	require.True(t, metrics.DepositsEnabled)
	require.False(t, metrics.WithdrawalsEnabled)
}

func TestScalarReadWithoutCodeReturnsErrNoCode(t *testing.T) {
	backend := chaintest.New(1)
	_, err := chain.NewVault(vaultAddr, backend).TotalSupply(context.Background())
	if !errors.Is(err, chain.ErrNoCode) {
		t.Fatalf("expected ErrNoCode, got %v", err)
	}
}

func TestEmptyReturnFromContractIsRevert(t *testing.T) {
	backend := chaintest.New(1)
	backend.SetCode(vaultAddr)
	_, err := chain.NewVault(vaultAddr, backend).EthBorrowed(context.Background())
	if !errors.Is(err, chain.ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
}

func TestRevertReasonIsDecoded(t *testing.T) {
	backend := chaintest.New(1)
	backend.Fail(vaultAddr, chain.VaultABI, "getDebt", revertError{data: encodeRevert(t, "paused")})

	_, err := chain.NewVault(vaultAddr, backend).Debt(context.Background())
	require.ErrorIs(t, err, chain.ErrReverted)
	require.Contains(t, err.Error(), "paused")
}

func TestHealthMetricsKeepsSignedDelta(t *testing.T) {
	backend := chaintest.New(1)
	backend.Respond(operatorAddr, chain.OperatorABI, "getHealthMetrics",
		big.NewInt(65e16), big.NewInt(1e18), big.NewInt(2e17), big.NewInt(3e17), big.NewInt(-42))

	health, err := chain.NewOperator(operatorAddr, backend).HealthMetrics(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(-42), health.Delta.Int64())
	require.Equal(t, "650000000000000000", health.CurrentLTV.String())
}

func TestRebalanceStatus(t *testing.T) {
	backend := chaintest.New(1)
	backend.Respond(rebalancerAddr, chain.RebalancerABI, "getRebalanceStatus",
		true, big.NewInt(3100e6), big.NewInt(3000e6), big.NewInt(333), big.NewInt(7200), big.NewInt(4))

	status, err := chain.NewRebalancer(rebalancerAddr, backend).Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.ShouldRebalance)
	require.Equal(t, int64(333), status.DeviationBps.Int64())
	require.Equal(t, int64(7200), status.SecondsSinceLastRebalance.Int64())
	require.Equal(t, int64(4), status.RebalanceCount.Int64())
}

func sampleParams() chain.SwapParams {
	return chain.SwapParams{
		Vault0:               common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		Vault1:               common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		EulerAccount:         common.HexToAddress("0x00000000000000000000000000000000000000b3"),
		EquilibriumReserve0:  big.NewInt(1_000_000),
		EquilibriumReserve1:  big.NewInt(2_000_000),
		PriceX:               big.NewInt(1),
		PriceY:               big.NewInt(3000),
		ConcentrationX:       big.NewInt(9e17),
		ConcentrationY:       big.NewInt(9e17),
		Fee:                  big.NewInt(3e15),
		ProtocolFee:          big.NewInt(0),
		ProtocolFeeRecipient: common.Address{},
	}
}

func TestSwapPoolParamsAndReserves(t *testing.T) {
	backend := chaintest.New(1)
	params := sampleParams()
	backend.Respond(poolAddr, chain.SwapABI, "getParams", params)
	backend.Respond(poolAddr, chain.SwapABI, "getReserves", big.NewInt(10), big.NewInt(20), uint32(1))

	pool := chain.NewSwapPool(poolAddr, backend)
	got, err := pool.Params(context.Background())
	require.NoError(t, err)
	require.Equal(t, params.Vault1, got.Vault1)
	require.Equal(t, "3000", got.PriceY.String())

	reserves, err := pool.Reserves(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(1), reserves.Status)
	require.Equal(t, int64(20), reserves.Reserve1.Int64())
}

func TestFactoryComputePoolAddressPacksTuple(t *testing.T) {
	backend := chaintest.New(1)
	want := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	backend.Respond(factoryAddr, chain.FactoryABI, "computePoolAddress", want)
	backend.Respond(factoryAddr, chain.FactoryABI, "poolsSlice", []common.Address{poolAddr})

	factory := chain.NewFactory(factoryAddr, backend)
	got, err := factory.ComputePoolAddress(context.Background(), sampleParams(), [32]byte{1})
	require.NoError(t, err)
	require.Equal(t, want, got)

	pools, err := factory.PoolsSlice(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, []common.Address{poolAddr}, pools)

	_, err = factory.PoolsSlice(context.Background(), 2, 1)
	require.Error(t, err)
}

func TestDepositWithPermitCalldata(t *testing.T) {
	vault := chain.NewVault(vaultAddr, nil)
	r := [32]byte{0xaa}
	s := [32]byte{0xbb}
	req, err := vault.DepositWithPermitTx(big.NewInt(100e6), big.NewInt(1_700_003_600), 28, r, s)
	require.NoError(t, err)
	require.Equal(t, vaultAddr, req.To)

	method := chain.VaultABI.Methods["depositWithPermit"]
	require.Equal(t, method.ID, []byte(req.Data[:4]))
	args, err := method.Inputs.Unpack(req.Data[4:])
	require.NoError(t, err)
	require.Equal(t, "100000000", args[0].(*big.Int).String())
	require.Equal(t, uint8(28), args[2].(uint8))
	require.Equal(t, r, args[3].([32]byte))
}

func TestWriteActionsRejectBadInput(t *testing.T) {
	if _, err := chain.NewVault(vaultAddr, nil).WithdrawTx(big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative shares to be rejected")
	}
	if _, err := chain.NewOperator(operatorAddr, nil).SetVaultTx(common.Address{}); err == nil {
		t.Fatalf("expected zero vault to be rejected")
	}
	if _, err := chain.NewDeltaHedger(operatorAddr, nil).InitializeStrategyTx(big.NewInt(0)); err == nil {
		t.Fatalf("expected zero eth price to be rejected")
	}
	order := chain.SwapOrder{Pool: poolAddr, TokenIn: vaultAddr, TokenOut: vaultAddr, Receiver: vaultAddr,
		Amount: big.NewInt(1), Bound: big.NewInt(1), Deadline: big.NewInt(1)}
	if _, err := chain.NewPeriphery(factoryAddr, nil).SwapExactInTx(order); err == nil {
		t.Fatalf("expected identical tokens to be rejected")
	}
}

func TestRelayRawRejectsMalformedPayloads(t *testing.T) {
	backend := chaintest.New(8453)
	for _, raw := range []string{"0xzz", "0x0102"} {
		_, err := chain.RelayRaw(context.Background(), backend, big.NewInt(8453), raw)
		require.ErrorIs(t, err, chain.ErrInvalidRawTx, raw)
	}
	require.Empty(t, backend.Sent())
}
