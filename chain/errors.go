package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrNoCode is returned when a call targets an address without bytecode.
	ErrNoCode = errors.New("chain: no contract code at address")
	// ErrReverted is returned when a call or transaction reverted.
	ErrReverted = errors.New("chain: execution reverted")
	// ErrChainMismatch is returned when a relayed transaction targets another chain.
	ErrChainMismatch = errors.New("chain: chain id mismatch")
	// ErrInvalidRawTx is returned when a relayed payload is not a signed
	// transaction.
	ErrInvalidRawTx = errors.New("chain: invalid raw transaction")
	// ErrOverflow is returned for amounts outside the uint256 range.
	ErrOverflow = errors.New("chain: value exceeds uint256")
)

type dataError interface {
	ErrorData() interface{}
}

// classifyCallError maps node errors carrying revert data onto ErrReverted,
// decoding the Error(string) reason when present.
func classifyCallError(err error) error {
	if err == nil {
		return nil
	}
	var de dataError
	if errors.As(err, &de) {
		if reason, ok := revertReason(de.ErrorData()); ok {
			return fmt.Errorf("%w: %s", ErrReverted, reason)
		}
		return fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return fmt.Errorf("%w: %v", ErrReverted, err)
	}
	return err
}

func revertReason(data interface{}) (string, bool) {
	encoded, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
