package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"deltavault/observability"
)

// TxRequest is an unsigned contract call ready to be signed by a wallet or
// the operator key.
type TxRequest struct {
	To     common.Address `json:"to"`
	Data   hexutil.Bytes  `json:"data"`
	Value  *hexutil.Big   `json:"value,omitempty"`
	Method string         `json:"method,omitempty"`
}

// Contract binds an ABI to a deployed address.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
	caller  Caller
}

// NewContract constructs a contract handle. caller may be nil for handles
// that only produce calldata.
func NewContract(name string, address common.Address, parsed abi.ABI, caller Caller) *Contract {
	return &Contract{Name: name, Address: address, ABI: parsed, caller: caller}
}

// Call executes a read-only method at the latest block and returns the
// unpacked outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	values, err := c.call(ctx, method, args...)
	observability.VaultGateway().ObserveContractCall(c.Name, method, err)
	return values, err
}

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if c == nil || c.caller == nil {
		return nil, fmt.Errorf("contract %s: backend not configured", method)
	}
	input, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: pack: %w", c.Name, method, err)
	}
	to := c.Address
	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.Name, method, classifyCallError(err))
	}
	if len(output) == 0 && len(c.ABI.Methods[method].Outputs) > 0 {
		code, codeErr := c.caller.CodeAt(ctx, c.Address, nil)
		if codeErr == nil && len(code) == 0 {
			return nil, fmt.Errorf("%s.%s at %s: %w", c.Name, method, c.Address.Hex(), ErrNoCode)
		}
		return nil, fmt.Errorf("%s.%s: %w: empty return data", c.Name, method, ErrReverted)
	}
	values, err := c.ABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: unpack: %w", c.Name, method, err)
	}
	return values, nil
}

// Calldata encodes a state-changing call without sending it.
func (c *Contract) Calldata(method string, args ...any) (TxRequest, error) {
	if c == nil {
		return TxRequest{}, fmt.Errorf("contract not configured")
	}
	input, err := c.ABI.Pack(method, args...)
	if err != nil {
		return TxRequest{}, fmt.Errorf("%s.%s: pack: %w", c.Name, method, err)
	}
	return TxRequest{To: c.Address, Data: input, Method: method}, nil
}

func (c *Contract) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return bigAt(values, 0, c.Name+"."+method)
}

func (c *Contract) callAddress(ctx context.Context, method string, args ...any) (common.Address, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return addressAt(values, 0, c.Name+"."+method)
}

func (c *Contract) callAddresses(ctx context.Context, method string, args ...any) ([]common.Address, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s.%s: missing output", c.Name, method)
	}
	out, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%s.%s: unexpected output %T", c.Name, method, values[0])
	}
	return out, nil
}

func (c *Contract) callString(ctx context.Context, method string) (string, error) {
	values, err := c.Call(ctx, method)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("%s.%s: missing output", c.Name, method)
	}
	out, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%s.%s: unexpected output %T", c.Name, method, values[0])
	}
	return out, nil
}

func bigAt(values []any, idx int, field string) (*big.Int, error) {
	if idx >= len(values) {
		return nil, fmt.Errorf("%s: missing output %d", field, idx)
	}
	out, ok := values[idx].(*big.Int)
	if !ok || out == nil {
		return nil, fmt.Errorf("%s: output %d is %T, want *big.Int", field, idx, values[idx])
	}
	return out, nil
}

func boolAt(values []any, idx int, field string) (bool, error) {
	if idx >= len(values) {
		return false, fmt.Errorf("%s: missing output %d", field, idx)
	}
	out, ok := values[idx].(bool)
	if !ok {
		return false, fmt.Errorf("%s: output %d is %T, want bool", field, idx, values[idx])
	}
	return out, nil
}

func addressAt(values []any, idx int, field string) (common.Address, error) {
	if idx >= len(values) {
		return common.Address{}, fmt.Errorf("%s: missing output %d", field, idx)
	}
	out, ok := values[idx].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: output %d is %T, want address", field, idx, values[idx])
	}
	return out, nil
}
