package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// SwapParams mirrors the EulerSwap pool parameter tuple.
type SwapParams struct {
	Vault0               common.Address `json:"vault0"`
	Vault1               common.Address `json:"vault1"`
	EulerAccount         common.Address `json:"eulerAccount"`
	EquilibriumReserve0  *big.Int       `json:"equilibriumReserve0"`
	EquilibriumReserve1  *big.Int       `json:"equilibriumReserve1"`
	PriceX               *big.Int       `json:"priceX"`
	PriceY               *big.Int       `json:"priceY"`
	ConcentrationX       *big.Int       `json:"concentrationX"`
	ConcentrationY       *big.Int       `json:"concentrationY"`
	Fee                  *big.Int       `json:"fee"`
	ProtocolFee          *big.Int       `json:"protocolFee"`
	ProtocolFeeRecipient common.Address `json:"protocolFeeRecipient"`
}

// Factory wraps the EulerSwap factory.
type Factory struct {
	*Contract
}

func NewFactory(address common.Address, caller Caller) *Factory {
	return &Factory{Contract: NewContract("factory", address, FactoryABI, caller)}
}

func (f *Factory) PoolsLength(ctx context.Context) (*big.Int, error) {
	return f.callUint(ctx, "poolsLength")
}

// PoolsSlice returns the deployed pools in [start, end).
func (f *Factory) PoolsSlice(ctx context.Context, start, end uint64) ([]common.Address, error) {
	if end < start {
		return nil, fmt.Errorf("poolsSlice: end %d before start %d", end, start)
	}
	return f.callAddresses(ctx, "poolsSlice", new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
}

func (f *Factory) PoolsByPairLength(ctx context.Context, asset0, asset1 common.Address) (*big.Int, error) {
	return f.callUint(ctx, "poolsByPairLength", asset0, asset1)
}

func (f *Factory) PoolsByPairSlice(ctx context.Context, asset0, asset1 common.Address, start, end uint64) ([]common.Address, error) {
	if end < start {
		return nil, fmt.Errorf("poolsByPairSlice: end %d before start %d", end, start)
	}
	return f.callAddresses(ctx, "poolsByPairSlice", asset0, asset1, new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
}

func (f *Factory) PoolByEulerAccount(ctx context.Context, account common.Address) (common.Address, error) {
	return f.callAddress(ctx, "poolByEulerAccount", account)
}

func (f *Factory) ComputePoolAddress(ctx context.Context, params SwapParams, salt [32]byte) (common.Address, error) {
	return f.callAddress(ctx, "computePoolAddress", params, salt)
}

// UninstallPoolTx removes the caller's pool. It must be sent by the pool's
// Euler account.
func (f *Factory) UninstallPoolTx() (TxRequest, error) {
	return f.Calldata("uninstallPool")
}

// SwapPool wraps a deployed EulerSwap pool.
type SwapPool struct {
	*Contract
}

func NewSwapPool(address common.Address, caller Caller) *SwapPool {
	return &SwapPool{Contract: NewContract("eulerswap", address, SwapABI, caller)}
}

func (p *SwapPool) Params(ctx context.Context) (SwapParams, error) {
	values, err := p.Call(ctx, "getParams")
	if err != nil {
		return SwapParams{}, err
	}
	if len(values) == 0 {
		return SwapParams{}, fmt.Errorf("eulerswap.getParams: missing output")
	}
	return convertParams(values[0])
}

func convertParams(raw any) (params SwapParams, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eulerswap.getParams: decode tuple: %v", r)
		}
	}()
	params = *abi.ConvertType(raw, new(SwapParams)).(*SwapParams)
	return params, nil
}

// Assets returns the pair's underlying asset addresses.
func (p *SwapPool) Assets(ctx context.Context) (common.Address, common.Address, error) {
	values, err := p.Call(ctx, "getAssets")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	asset0, err := addressAt(values, 0, "eulerswap.getAssets")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	asset1, err := addressAt(values, 1, "eulerswap.getAssets")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return asset0, asset1, nil
}

// Reserves mirrors the getReserves() return tuple.
type Reserves struct {
	Reserve0 *big.Int `json:"reserve0"`
	Reserve1 *big.Int `json:"reserve1"`
	Status   uint32   `json:"status"`
}

func (p *SwapPool) Reserves(ctx context.Context) (Reserves, error) {
	values, err := p.Call(ctx, "getReserves")
	if err != nil {
		return Reserves{}, err
	}
	var out Reserves
	if out.Reserve0, err = bigAt(values, 0, "eulerswap.getReserves"); err != nil {
		return Reserves{}, err
	}
	if out.Reserve1, err = bigAt(values, 1, "eulerswap.getReserves"); err != nil {
		return Reserves{}, err
	}
	if len(values) < 3 {
		return Reserves{}, fmt.Errorf("eulerswap.getReserves: missing status")
	}
	status, ok := values[2].(uint32)
	if !ok {
		return Reserves{}, fmt.Errorf("eulerswap.getReserves: status is %T", values[2])
	}
	out.Status = status
	return out, nil
}

func (p *SwapPool) ComputeQuote(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int, exactIn bool) (*big.Int, error) {
	if err := CheckUint256(amount); err != nil {
		return nil, fmt.Errorf("computeQuote: %w", err)
	}
	return p.callUint(ctx, "computeQuote", tokenIn, tokenOut, amount, exactIn)
}

// Limits is the maximum input and output the pool accepts for a direction.
type Limits struct {
	LimitIn  *big.Int `json:"limitIn"`
	LimitOut *big.Int `json:"limitOut"`
}

func (p *SwapPool) Limits(ctx context.Context, tokenIn, tokenOut common.Address) (Limits, error) {
	values, err := p.Call(ctx, "getLimits", tokenIn, tokenOut)
	if err != nil {
		return Limits{}, err
	}
	return limitsFrom(values, "eulerswap.getLimits")
}

func limitsFrom(values []any, field string) (Limits, error) {
	limitIn, err := bigAt(values, 0, field)
	if err != nil {
		return Limits{}, err
	}
	limitOut, err := bigAt(values, 1, field)
	if err != nil {
		return Limits{}, err
	}
	return Limits{LimitIn: limitIn, LimitOut: limitOut}, nil
}

// Periphery wraps the EulerSwap periphery router.
type Periphery struct {
	*Contract
}

func NewPeriphery(address common.Address, caller Caller) *Periphery {
	return &Periphery{Contract: NewContract("periphery", address, PeripheryABI, caller)}
}

func (p *Periphery) QuoteExactInput(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := CheckUint256(amountIn); err != nil {
		return nil, fmt.Errorf("quoteExactInput: %w", err)
	}
	return p.callUint(ctx, "quoteExactInput", pool, tokenIn, tokenOut, amountIn)
}

func (p *Periphery) QuoteExactOutput(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if err := CheckUint256(amountOut); err != nil {
		return nil, fmt.Errorf("quoteExactOutput: %w", err)
	}
	return p.callUint(ctx, "quoteExactOutput", pool, tokenIn, tokenOut, amountOut)
}

func (p *Periphery) Limits(ctx context.Context, pool, tokenIn, tokenOut common.Address) (Limits, error) {
	values, err := p.Call(ctx, "getLimits", pool, tokenIn, tokenOut)
	if err != nil {
		return Limits{}, err
	}
	return limitsFrom(values, "periphery.getLimits")
}

// SwapOrder describes a periphery swap. Amount is the exact side, Bound the
// slippage bound on the other side.
type SwapOrder struct {
	Pool     common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *big.Int
	Bound    *big.Int
	Receiver common.Address
	Deadline *big.Int
}

func (o SwapOrder) validate() error {
	if o.Pool == (common.Address{}) {
		return fmt.Errorf("pool address required")
	}
	if o.TokenIn == o.TokenOut {
		return fmt.Errorf("tokenIn and tokenOut must differ")
	}
	if o.Receiver == (common.Address{}) {
		return fmt.Errorf("receiver required")
	}
	for _, value := range []*big.Int{o.Amount, o.Bound, o.Deadline} {
		if err := CheckUint256(value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Periphery) SwapExactInTx(order SwapOrder) (TxRequest, error) {
	if err := order.validate(); err != nil {
		return TxRequest{}, fmt.Errorf("swapExactIn: %w", err)
	}
	return p.Calldata("swapExactIn", order.Pool, order.TokenIn, order.TokenOut, order.Amount, order.Receiver, order.Bound, order.Deadline)
}

func (p *Periphery) SwapExactOutTx(order SwapOrder) (TxRequest, error) {
	if err := order.validate(); err != nil {
		return TxRequest{}, fmt.Errorf("swapExactOut: %w", err)
	}
	return p.Calldata("swapExactOut", order.Pool, order.TokenIn, order.TokenOut, order.Amount, order.Receiver, order.Bound, order.Deadline)
}
