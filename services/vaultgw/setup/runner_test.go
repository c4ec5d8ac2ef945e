package setup_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"deltavault/chain"
	"deltavault/chain/chaintest"
	"deltavault/services/vaultgw/models"
	"deltavault/services/vaultgw/setup"
)

var (
	evcAddr    = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	hedgerAddr = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	swapAddr   = common.HexToAddress("0x0000000000000000000000000000000000000501")
	vault0     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	vault1     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	usdc       = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth       = common.HexToAddress("0x4200000000000000000000000000000000000006")
	account    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type recordingExecutor struct {
	mu     sync.Mutex
	sent   []chain.TxRequest
	failAt int
	err    error
}

func (e *recordingExecutor) Address() common.Address { return account }

func (e *recordingExecutor) Execute(_ context.Context, req chain.TxRequest) (*gethtypes.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAt > 0 && len(e.sent)+1 == e.failAt {
		e.failAt = 0
		return nil, e.err
	}
	e.sent = append(e.sent, req)
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", len(e.sent))))
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, TxHash: hash}, nil
}

func (e *recordingExecutor) requests() []chain.TxRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]chain.TxRequest(nil), e.sent...)
}

func discoverableBackend() *chaintest.Backend {
	backend := chaintest.New(8453)
	backend.Respond(hedgerAddr, chain.DeltaHedgerABI, "eulerSwap", swapAddr)
	backend.Respond(swapAddr, chain.SwapABI, "getParams", chain.SwapParams{
		Vault0:              vault0,
		Vault1:              vault1,
		EulerAccount:        account,
		EquilibriumReserve0: big.NewInt(1),
		EquilibriumReserve1: big.NewInt(1),
		PriceX:              big.NewInt(1),
		PriceY:              big.NewInt(1),
		ConcentrationX:      big.NewInt(0),
		ConcentrationY:      big.NewInt(0),
		Fee:                 big.NewInt(0),
		ProtocolFee:         big.NewInt(0),
	})
	backend.Respond(vault0, chain.EulerVaultABI, "asset", usdc)
	backend.Respond(vault1, chain.EulerVaultABI, "asset", weth)
	return backend
}

func newRunner(t *testing.T, backend *chaintest.Backend, exec setup.Executor) (*setup.Runner, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	runner, err := setup.NewRunner(setup.Config{
		DB:            db,
		Caller:        backend,
		Executor:      exec,
		EVC:           evcAddr,
		DefaultHedger: hedgerAddr,
	})
	require.NoError(t, err)
	return runner, db
}

func TestDiscoverResolvesVaultsAndAssets(t *testing.T) {
	runner, _ := newRunner(t, discoverableBackend(), &recordingExecutor{})
	found, err := runner.Discover(context.Background(), hedgerAddr)
	require.NoError(t, err)
	require.Equal(t, swapAddr, found.EulerSwap)
	require.Equal(t, vault1, found.Vault1)
	require.Equal(t, usdc, found.Asset0)
	require.Equal(t, weth, found.Asset1)
}

func TestDiscoverReportsMissingPool(t *testing.T) {
	backend := chaintest.New(8453)
	backend.Fail(hedgerAddr, chain.DeltaHedgerABI, "eulerSwap", errors.New("execution reverted"))
	runner, _ := newRunner(t, backend, &recordingExecutor{})
	_, err := runner.Discover(context.Background(), hedgerAddr)
	require.ErrorIs(t, err, setup.ErrNotDiscovered)
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	exec := &recordingExecutor{}
	runner, _ := newRunner(t, discoverableBackend(), exec)

	run, err := runner.Start(context.Background(), setup.Request{Amount: "50000"})
	require.NoError(t, err)
	require.Equal(t, setup.StatusProcessing, run.Status)
	runner.Wait()

	done, err := runner.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, setup.StatusCompleted, done.Status)
	require.Equal(t, 6, done.CompletedSteps)
	require.Len(t, setup.Hashes(done), 6)

	sent := exec.requests()
	require.Len(t, sent, 6)
	wantTargets := []common.Address{evcAddr, evcAddr, evcAddr, usdc, vault0, hedgerAddr}
	wantMethods := []string{"setAccountOperator", "enableCollateral", "enableCollateral", "approve", "deposit", "initializeStrategy"}
	for i, req := range sent {
		require.Equal(t, wantTargets[i], req.To, "step %d", i)
		require.Equal(t, wantMethods[i], req.Method, "step %d", i)
	}

	args, err := chain.DeltaHedgerABI.Methods["initializeStrategy"].Inputs.Unpack(sent[5].Data[4:])
	require.NoError(t, err)
	require.Equal(t, "3000000000", args[0].(*big.Int).String())

	args, err = chain.ERC20ABI.Methods["approve"].Inputs.Unpack(sent[3].Data[4:])
	require.NoError(t, err)
	require.Equal(t, vault0, args[0].(common.Address))
	require.Equal(t, "50000000000", args[1].(*big.Int).String())
}

func TestFailedRunResumesAfterLastStep(t *testing.T) {
	exec := &recordingExecutor{failAt: 4, err: fmt.Errorf("%w: allowance", chain.ErrReverted)}
	runner, _ := newRunner(t, discoverableBackend(), exec)

	run, err := runner.Start(context.Background(), setup.Request{})
	require.NoError(t, err)
	runner.Wait()

	failed, err := runner.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, setup.StatusError, failed.Status)
	require.Equal(t, 3, failed.CompletedSteps)
	require.Contains(t, failed.Error, "approve")

	_, err = runner.Resume(context.Background(), run.ID)
	require.NoError(t, err)
	runner.Wait()

	done, err := runner.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, setup.StatusCompleted, done.Status)
	require.Empty(t, done.Error)
	require.Len(t, exec.requests(), 6)

	_, err = runner.Resume(context.Background(), run.ID)
	require.ErrorIs(t, err, setup.ErrRunCompleted)
	_, err = runner.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, setup.ErrRunNotFound)
}

func TestStartRejectsBadAmounts(t *testing.T) {
	runner, _ := newRunner(t, discoverableBackend(), &recordingExecutor{})
	_, err := runner.Start(context.Background(), setup.Request{Amount: "-5"})
	require.ErrorIs(t, err, setup.ErrInvalidRequest)
	_, err = runner.Start(context.Background(), setup.Request{EthPrice: "3000.0000001"})
	require.ErrorIs(t, err, setup.ErrInvalidRequest)
	_, err = runner.Start(context.Background(), setup.Request{DeltaHedger: "nope"})
	require.ErrorIs(t, err, setup.ErrInvalidRequest)
}
