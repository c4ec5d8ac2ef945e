package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token wraps an ERC-20 with the ERC-2612 permit extensions.
type Token struct {
	*Contract
}

func NewToken(address common.Address, caller Caller) *Token {
	return &Token{Contract: NewContract("erc20", address, ERC20ABI, caller)}
}

func (t *Token) Name(ctx context.Context) (string, error) {
	return t.callString(ctx, "name")
}

func (t *Token) Symbol(ctx context.Context) (string, error) {
	return t.callString(ctx, "symbol")
}

// Version reads the EIP-712 domain version. Many tokens do not expose it;
// callers decide on a fallback.
func (t *Token) Version(ctx context.Context) (string, error) {
	return t.callString(ctx, "version")
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	values, err := t.Call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("erc20.decimals: missing output")
	}
	out, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("erc20.decimals: unexpected output %T", values[0])
	}
	return out, nil
}

func (t *Token) Nonces(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.callUint(ctx, "nonces", owner)
}

func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return t.callUint(ctx, "balanceOf", account)
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callUint(ctx, "allowance", owner, spender)
}

func (t *Token) ApproveTx(spender common.Address, amount *big.Int) (TxRequest, error) {
	if spender == (common.Address{}) {
		return TxRequest{}, fmt.Errorf("approve: spender required")
	}
	if err := CheckUint256(amount); err != nil {
		return TxRequest{}, fmt.Errorf("approve: %w", err)
	}
	return t.Calldata("approve", spender, amount)
}
