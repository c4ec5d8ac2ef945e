package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// RelayResult describes a broadcast wallet transaction.
type RelayResult struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Nonce uint64          `json:"nonce"`
}

// RelayRaw decodes a wallet-signed transaction, checks it targets chainID and
// broadcasts it unchanged.
func RelayRaw(ctx context.Context, backend Backend, chainID *big.Int, rawHex string) (RelayResult, error) {
	data, err := hexutil.Decode(strings.TrimSpace(rawHex))
	if err != nil {
		return RelayResult{}, fmt.Errorf("%w: %w", ErrInvalidRawTx, err)
	}
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return RelayResult{}, fmt.Errorf("%w: %w", ErrInvalidRawTx, err)
	}
	if chainID == nil {
		if chainID, err = backend.ChainID(ctx); err != nil {
			return RelayResult{}, fmt.Errorf("chain id: %w", err)
		}
	}
	if txChain := tx.ChainId(); txChain == nil || txChain.Cmp(chainID) != 0 {
		return RelayResult{}, fmt.Errorf("%w: transaction chain %v, node chain %v", ErrChainMismatch, txChain, chainID)
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return RelayResult{}, fmt.Errorf("recover sender: %w", err)
	}
	if err := backend.SendTransaction(ctx, tx); err != nil {
		return RelayResult{}, fmt.Errorf("send transaction: %w", classifyCallError(err))
	}
	return RelayResult{Hash: tx.Hash(), From: from, To: tx.To(), Nonce: tx.Nonce()}, nil
}
