package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	defaultGasHeadroomPct = 20
	defaultReceiptPoll    = 2 * time.Second
)

// TransactorOption customises a Transactor.
type TransactorOption func(*Transactor)

// WithGasHeadroom sets the percentage added on top of the gas estimate.
func WithGasHeadroom(pct int) TransactorOption {
	return func(t *Transactor) {
		if pct >= 0 {
			t.gasHeadroomPct = pct
		}
	}
}

// WithReceiptPoll sets the receipt polling interval used by Execute.
func WithReceiptPoll(interval time.Duration) TransactorOption {
	return func(t *Transactor) {
		if interval > 0 {
			t.pollInterval = interval
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) TransactorOption {
	return func(t *Transactor) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transactor signs TxRequests with the operator key and submits them as
// EIP-1559 transactions.
type Transactor struct {
	backend        Backend
	signer         Signer
	chainID        *big.Int
	gasHeadroomPct int
	pollInterval   time.Duration
	logger         *slog.Logger

	mu sync.Mutex
}

// NewTransactor resolves the chain id and returns a ready transactor.
func NewTransactor(ctx context.Context, backend Backend, signer Signer, opts ...TransactorOption) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("transactor: backend required")
	}
	if signer == nil {
		return nil, fmt.Errorf("transactor: signer required")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("transactor: chain id: %w", err)
	}
	t := &Transactor{
		backend:        backend,
		signer:         signer,
		chainID:        chainID,
		gasHeadroomPct: defaultGasHeadroomPct,
		pollInterval:   defaultReceiptPoll,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Address returns the operator account.
func (t *Transactor) Address() common.Address {
	return t.signer.Address()
}

// Signer exposes the operator signer for digest signing.
func (t *Transactor) Signer() Signer {
	return t.signer
}

// ChainID returns the chain id resolved at construction.
func (t *Transactor) ChainID() *big.Int {
	return new(big.Int).Set(t.chainID)
}

// Send signs and broadcasts req. Submissions are serialised so pending
// nonces never collide.
func (t *Transactor) Send(ctx context.Context, req TxRequest) (*gethtypes.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.signer.Address()
	value := new(big.Int)
	if req.Value != nil {
		value = req.Value.ToInt()
	}
	to := req.To
	nonce, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := t.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", req.Method, classifyCallError(err))
	}
	gas += gas * uint64(t.gasHeadroomPct) / 100

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := t.signer.SignTx(tx, t.chainID)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	t.logger.Info("transaction submitted",
		slog.String("method", req.Method),
		slog.String("to", to.Hex()),
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce))
	return signed, nil
}

// Execute sends req and waits for a successful receipt.
func (t *Transactor) Execute(ctx context.Context, req TxRequest) (*gethtypes.Receipt, error) {
	tx, err := t.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return WaitMined(ctx, t.backend, tx.Hash(), t.pollInterval)
}

// WaitMined polls for the receipt of hash until it is available or ctx is
// done. A receipt with failed status yields ErrReverted.
func WaitMined(ctx context.Context, reader ReceiptReader, hash common.Hash, interval time.Duration) (*gethtypes.Receipt, error) {
	if interval <= 0 {
		interval = defaultReceiptPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := reader.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s: %w", hash.Hex(), ErrReverted)
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
