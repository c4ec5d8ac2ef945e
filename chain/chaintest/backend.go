// Package chaintest provides an in-process chain.Backend for tests.
package chaintest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

type callKey struct {
	to       common.Address
	selector string
}

// Backend answers contract calls from canned ABI-packed outputs and records
// submitted transactions. Unregistered calls return empty data.
type Backend struct {
	mu        sync.Mutex
	chainID   *big.Int
	outputs   map[callKey][]byte
	failures  map[callKey]error
	code      map[common.Address][]byte
	sent      []*gethtypes.Transaction
	receipts  map[common.Hash]*gethtypes.Receipt
	revertTxs map[string]bool
	calls     map[string]int

	BaseFee  *big.Int
	Tip      *big.Int
	Gas      uint64
	SendErr  error
	Nonce    uint64
	GasError error
}

// New returns a backend reporting chainID.
func New(chainID int64) *Backend {
	return &Backend{
		chainID:   big.NewInt(chainID),
		outputs:   make(map[callKey][]byte),
		failures:  make(map[callKey]error),
		code:      make(map[common.Address][]byte),
		receipts:  make(map[common.Hash]*gethtypes.Receipt),
		revertTxs: make(map[string]bool),
		calls:     make(map[string]int),
		BaseFee:   big.NewInt(1_000_000_000),
		Tip:       big.NewInt(100_000_000),
		Gas:       100_000,
	}
}

// Respond registers the outputs returned when method is called on to.
func (b *Backend) Respond(to common.Address, parsed abi.ABI, method string, values ...any) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	packed, err := m.Outputs.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("chaintest: pack %s: %v", method, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := callKey{to: to, selector: hex.EncodeToString(m.ID)}
	b.outputs[key] = packed
	delete(b.failures, key)
	b.code[to] = []byte{0x60, 0x80}
}

// Fail makes calls of method on to return err.
func (b *Backend) Fail(to common.Address, parsed abi.ABI, method string, err error) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := callKey{to: to, selector: hex.EncodeToString(m.ID)}
	b.failures[key] = err
	delete(b.outputs, key)
}

// SetCode marks to as a deployed contract.
func (b *Backend) SetCode(to common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.code[to] = []byte{0x60, 0x80}
}

// RevertMethod makes mined transactions calling method fail with status 0.
func (b *Backend) RevertMethod(parsed abi.ABI, method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertTxs[hex.EncodeToString(parsed.Methods[method].ID)] = true
}

// Calls returns how many times the selector of method was called.
func (b *Backend) Calls(parsed abi.ABI, method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[hex.EncodeToString(parsed.Methods[method].ID)]
}

// Sent returns the transactions submitted so far.
func (b *Backend) Sent() []*gethtypes.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*gethtypes.Transaction(nil), b.sent...)
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, fmt.Errorf("chaintest: malformed call")
	}
	selector := hex.EncodeToString(call.Data[:4])
	key := callKey{to: *call.To, selector: selector}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[selector]++
	if err, ok := b.failures[key]; ok {
		return nil, err
	}
	return b.outputs[key], nil
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code[account], nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(1), BaseFee: b.BaseFee}, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Nonce, nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.Tip), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.GasError != nil {
		return 0, b.GasError
	}
	return b.Gas, nil
}

// SendTransaction records tx and mines it immediately.
func (b *Backend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	if b.SendErr != nil {
		return b.SendErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.Nonce++
	status := gethtypes.ReceiptStatusSuccessful
	if data := tx.Data(); len(data) >= 4 && b.revertTxs[hex.EncodeToString(data[:4])] {
		status = gethtypes.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &gethtypes.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(len(b.sent))),
		GasUsed:     tx.Gas(),
	}
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}
