package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault wraps the delta-neutral vault contract.
type Vault struct {
	*Contract
}

// NewVault binds the vault ABI to address.
func NewVault(address common.Address, caller Caller) *Vault {
	return &Vault{Contract: NewContract("vault", address, VaultABI, caller)}
}

func (v *Vault) TotalSupply(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "totalSupply")
}

func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "totalAssets")
}

func (v *Vault) EthBorrowed(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "getEthBorrowed")
}

func (v *Vault) Collateral(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "getCollateral")
}

func (v *Vault) Debt(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "getDebt")
}

func (v *Vault) LastRebalancePrice(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "lastRebalancePrice")
}

func (v *Vault) RebalanceCount(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "rebalanceCount")
}

// BalanceOf returns the share balance of account (18 decimals).
func (v *Vault) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return v.callUint(ctx, "balanceOf", account)
}

// VaultMetrics mirrors the getVaultMetrics() return tuple.
type VaultMetrics struct {
	TotalSupply        *big.Int
	TotalAssets        *big.Int
	SharePrice         *big.Int
	LastPrice          *big.Int
	DepositsEnabled    bool
	WithdrawalsEnabled bool
}

// Metrics reads the aggregated vault view.
func (v *Vault) Metrics(ctx context.Context) (VaultMetrics, error) {
	values, err := v.Call(ctx, "getVaultMetrics")
	if err != nil {
		return VaultMetrics{}, err
	}
	const field = "vault.getVaultMetrics"
	var out VaultMetrics
	if out.TotalSupply, err = bigAt(values, 0, field); err != nil {
		return VaultMetrics{}, err
	}
	if out.TotalAssets, err = bigAt(values, 1, field); err != nil {
		return VaultMetrics{}, err
	}
	if out.SharePrice, err = bigAt(values, 2, field); err != nil {
		return VaultMetrics{}, err
	}
	if out.LastPrice, err = bigAt(values, 3, field); err != nil {
		return VaultMetrics{}, err
	}
	if out.DepositsEnabled, err = boolAt(values, 4, field); err != nil {
		return VaultMetrics{}, err
	}
	if out.WithdrawalsEnabled, err = boolAt(values, 5, field); err != nil {
		return VaultMetrics{}, err
	}
	return out, nil
}

// DepositTx deposits assets (USDC base units).
func (v *Vault) DepositTx(assets *big.Int) (TxRequest, error) {
	if err := CheckUint256(assets); err != nil {
		return TxRequest{}, fmt.Errorf("deposit: %w", err)
	}
	return v.Calldata("deposit", assets)
}

// DepositWithPermitTx deposits assets using an ERC-2612 permit signature.
func (v *Vault) DepositWithPermitTx(assets, deadline *big.Int, sigV uint8, sigR, sigS [32]byte) (TxRequest, error) {
	if err := CheckUint256(assets); err != nil {
		return TxRequest{}, fmt.Errorf("depositWithPermit: %w", err)
	}
	if err := CheckUint256(deadline); err != nil {
		return TxRequest{}, fmt.Errorf("depositWithPermit deadline: %w", err)
	}
	return v.Calldata("depositWithPermit", assets, deadline, sigV, sigR, sigS)
}

// WithdrawTx redeems shares (18 decimals).
func (v *Vault) WithdrawTx(shares *big.Int) (TxRequest, error) {
	if err := CheckUint256(shares); err != nil {
		return TxRequest{}, fmt.Errorf("withdraw: %w", err)
	}
	return v.Calldata("withdraw", shares)
}

// Operator wraps the strategy operator contract.
type Operator struct {
	*Contract
}

func NewOperator(address common.Address, caller Caller) *Operator {
	return &Operator{Contract: NewContract("operator", address, OperatorABI, caller)}
}

// HealthMetrics mirrors the getHealthMetrics() return tuple. Delta is signed.
type HealthMetrics struct {
	CurrentLTV *big.Int
	Collateral *big.Int
	Debt       *big.Int
	Liquidity  *big.Int
	Delta      *big.Int
}

func (o *Operator) HealthMetrics(ctx context.Context) (HealthMetrics, error) {
	values, err := o.Call(ctx, "getHealthMetrics")
	if err != nil {
		return HealthMetrics{}, err
	}
	const field = "operator.getHealthMetrics"
	var out HealthMetrics
	targets := []**big.Int{&out.CurrentLTV, &out.Collateral, &out.Debt, &out.Liquidity, &out.Delta}
	for i, target := range targets {
		value, err := bigAt(values, i, field)
		if err != nil {
			return HealthMetrics{}, err
		}
		*target = value
	}
	return out, nil
}

func (o *Operator) Owner(ctx context.Context) (common.Address, error) {
	return o.callAddress(ctx, "owner")
}

func (o *Operator) RebalanceTx() (TxRequest, error) {
	return o.Calldata("rebalance")
}

func (o *Operator) SetVaultTx(vault common.Address) (TxRequest, error) {
	if vault == (common.Address{}) {
		return TxRequest{}, fmt.Errorf("setVault: vault address required")
	}
	return o.Calldata("setVault", vault)
}

func (o *Operator) TransferOwnershipTx(newOwner common.Address) (TxRequest, error) {
	if newOwner == (common.Address{}) {
		return TxRequest{}, fmt.Errorf("transferOwnership: new owner required")
	}
	return o.Calldata("transferOwnership", newOwner)
}

func (o *Operator) RenounceOwnershipTx() (TxRequest, error) {
	return o.Calldata("renounceOwnership")
}

// Rebalancer wraps the rebalance trigger contract.
type Rebalancer struct {
	*Contract
}

func NewRebalancer(address common.Address, caller Caller) *Rebalancer {
	return &Rebalancer{Contract: NewContract("rebalancer", address, RebalancerABI, caller)}
}

// RebalanceStatus mirrors the getRebalanceStatus() return tuple.
type RebalanceStatus struct {
	ShouldRebalance           bool
	CurrentPrice              *big.Int
	LastPrice                 *big.Int
	DeviationBps              *big.Int
	SecondsSinceLastRebalance *big.Int
	RebalanceCount            *big.Int
}

func (r *Rebalancer) Status(ctx context.Context) (RebalanceStatus, error) {
	values, err := r.Call(ctx, "getRebalanceStatus")
	if err != nil {
		return RebalanceStatus{}, err
	}
	const field = "rebalancer.getRebalanceStatus"
	var out RebalanceStatus
	if out.ShouldRebalance, err = boolAt(values, 0, field); err != nil {
		return RebalanceStatus{}, err
	}
	targets := []**big.Int{&out.CurrentPrice, &out.LastPrice, &out.DeviationBps, &out.SecondsSinceLastRebalance, &out.RebalanceCount}
	for i, target := range targets {
		value, err := bigAt(values, i+1, field)
		if err != nil {
			return RebalanceStatus{}, err
		}
		*target = value
	}
	return out, nil
}

func (r *Rebalancer) RebalanceTx() (TxRequest, error) {
	return r.Calldata("rebalance")
}
