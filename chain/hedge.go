package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EVC wraps the Ethereum Vault Connector.
type EVC struct {
	*Contract
}

func NewEVC(address common.Address, caller Caller) *EVC {
	return &EVC{Contract: NewContract("evc", address, EVCABI, caller)}
}

func (e *EVC) SetAccountOperatorTx(account, operator common.Address, authorized bool) (TxRequest, error) {
	if account == (common.Address{}) || operator == (common.Address{}) {
		return TxRequest{}, fmt.Errorf("setAccountOperator: account and operator required")
	}
	return e.Calldata("setAccountOperator", account, operator, authorized)
}

func (e *EVC) EnableCollateralTx(account, vault common.Address) (TxRequest, error) {
	if account == (common.Address{}) || vault == (common.Address{}) {
		return TxRequest{}, fmt.Errorf("enableCollateral: account and vault required")
	}
	return e.Calldata("enableCollateral", account, vault)
}

// EulerVault wraps an ERC-4626 lending vault.
type EulerVault struct {
	*Contract
}

func NewEulerVault(address common.Address, caller Caller) *EulerVault {
	return &EulerVault{Contract: NewContract("euler-vault", address, EulerVaultABI, caller)}
}

func (v *EulerVault) Asset(ctx context.Context) (common.Address, error) {
	return v.callAddress(ctx, "asset")
}

func (v *EulerVault) DepositTx(amount *big.Int, receiver common.Address) (TxRequest, error) {
	if err := CheckUint256(amount); err != nil {
		return TxRequest{}, fmt.Errorf("deposit: %w", err)
	}
	if receiver == (common.Address{}) {
		return TxRequest{}, fmt.Errorf("deposit: receiver required")
	}
	return v.Calldata("deposit", amount, receiver)
}

// DeltaHedger wraps the hedging strategy contract.
type DeltaHedger struct {
	*Contract
}

func NewDeltaHedger(address common.Address, caller Caller) *DeltaHedger {
	return &DeltaHedger{Contract: NewContract("delta-hedger", address, DeltaHedgerABI, caller)}
}

// EulerSwap returns the pool the hedger manages.
func (d *DeltaHedger) EulerSwap(ctx context.Context) (common.Address, error) {
	return d.callAddress(ctx, "eulerSwap")
}

// InitializeStrategyTx seeds the strategy with an ETH price in USDC base units.
func (d *DeltaHedger) InitializeStrategyTx(ethPrice *big.Int) (TxRequest, error) {
	if err := CheckUint256(ethPrice); err != nil {
		return TxRequest{}, fmt.Errorf("initializeStrategy: %w", err)
	}
	if ethPrice.Sign() == 0 {
		return TxRequest{}, fmt.Errorf("initializeStrategy: eth price must be positive")
	}
	return d.Calldata("initializeStrategy", ethPrice)
}
