package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The ABIs below only carry the entry points the gateway calls. They are
// intentionally partial; unknown selectors are never produced.

const vaultABIJSON = `[
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getEthBorrowed","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getCollateral","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getDebt","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lastRebalancePrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"rebalanceCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getVaultMetrics","stateMutability":"view","inputs":[],"outputs":[
		{"name":"totalSupply","type":"uint256"},
		{"name":"totalAssets","type":"uint256"},
		{"name":"sharePrice","type":"uint256"},
		{"name":"lastPrice","type":"uint256"},
		{"name":"depositsEnabled","type":"bool"},
		{"name":"withdrawalsEnabled","type":"bool"}]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"depositWithPermit","stateMutability":"nonpayable","inputs":[
		{"name":"assets","type":"uint256"},
		{"name":"deadline","type":"uint256"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"}],"outputs":[]}
]`

const operatorABIJSON = `[
	{"type":"function","name":"getHealthMetrics","stateMutability":"view","inputs":[],"outputs":[
		{"name":"currentLTV","type":"uint256"},
		{"name":"collateral","type":"uint256"},
		{"name":"debt","type":"uint256"},
		{"name":"liquidity","type":"uint256"},
		{"name":"delta","type":"int256"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"rebalance","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"setVault","stateMutability":"nonpayable","inputs":[{"name":"vault","type":"address"}],"outputs":[]},
	{"type":"function","name":"transferOwnership","stateMutability":"nonpayable","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]},
	{"type":"function","name":"renounceOwnership","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const rebalancerABIJSON = `[
	{"type":"function","name":"getRebalanceStatus","stateMutability":"view","inputs":[],"outputs":[
		{"name":"shouldRebalance","type":"bool"},
		{"name":"currentPrice","type":"uint256"},
		{"name":"lastPrice","type":"uint256"},
		{"name":"deviationBps","type":"uint256"},
		{"name":"timeSinceLastRebalance","type":"uint256"},
		{"name":"rebalanceCount","type":"uint256"}]},
	{"type":"function","name":"rebalance","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const swapParamsComponents = `[
	{"name":"vault0","type":"address"},
	{"name":"vault1","type":"address"},
	{"name":"eulerAccount","type":"address"},
	{"name":"equilibriumReserve0","type":"uint112"},
	{"name":"equilibriumReserve1","type":"uint112"},
	{"name":"priceX","type":"uint256"},
	{"name":"priceY","type":"uint256"},
	{"name":"concentrationX","type":"uint256"},
	{"name":"concentrationY","type":"uint256"},
	{"name":"fee","type":"uint256"},
	{"name":"protocolFee","type":"uint256"},
	{"name":"protocolFeeRecipient","type":"address"}]`

var factoryABIJSON = `[
	{"type":"function","name":"poolsLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"poolsSlice","stateMutability":"view","inputs":[{"name":"start","type":"uint256"},{"name":"end","type":"uint256"}],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"poolsByPairLength","stateMutability":"view","inputs":[{"name":"asset0","type":"address"},{"name":"asset1","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"poolsByPairSlice","stateMutability":"view","inputs":[{"name":"asset0","type":"address"},{"name":"asset1","type":"address"},{"name":"start","type":"uint256"},{"name":"end","type":"uint256"}],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"poolByEulerAccount","stateMutability":"view","inputs":[{"name":"eulerAccount","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"computePoolAddress","stateMutability":"view","inputs":[
		{"name":"poolParams","type":"tuple","components":` + swapParamsComponents + `},
		{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"uninstallPool","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

var swapABIJSON = `[
	{"type":"function","name":"getParams","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple","components":` + swapParamsComponents + `}]},
	{"type":"function","name":"getAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"asset0","type":"address"},{"name":"asset1","type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"status","type":"uint32"}]},
	{"type":"function","name":"computeQuote","stateMutability":"view","inputs":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"exactIn","type":"bool"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getLimits","stateMutability":"view","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"}],"outputs":[{"name":"limitIn","type":"uint256"},{"name":"limitOut","type":"uint256"}]}
]`

const peripheryABIJSON = `[
	{"type":"function","name":"quoteExactInput","stateMutability":"view","inputs":[
		{"name":"eulerSwap","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"quoteExactOutput","stateMutability":"view","inputs":[
		{"name":"eulerSwap","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountOut","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getLimits","stateMutability":"view","inputs":[
		{"name":"eulerSwap","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"}],"outputs":[{"name":"limitIn","type":"uint256"},{"name":"limitOut","type":"uint256"}]},
	{"type":"function","name":"swapExactIn","stateMutability":"nonpayable","inputs":[
		{"name":"eulerSwap","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"receiver","type":"address"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"swapExactOut","stateMutability":"nonpayable","inputs":[
		{"name":"eulerSwap","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountOut","type":"uint256"},
		{"name":"receiver","type":"address"},
		{"name":"amountInMax","type":"uint256"},
		{"name":"deadline","type":"uint256"}],"outputs":[]}
]`

const evcABIJSON = `[
	{"type":"function","name":"setAccountOperator","stateMutability":"payable","inputs":[
		{"name":"account","type":"address"},
		{"name":"operator","type":"address"},
		{"name":"authorized","type":"bool"}],"outputs":[]},
	{"type":"function","name":"enableCollateral","stateMutability":"payable","inputs":[
		{"name":"account","type":"address"},
		{"name":"vault","type":"address"}],"outputs":[]}
]`

const eulerVaultABIJSON = `[
	{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const deltaHedgerABIJSON = `[
	{"type":"function","name":"eulerSwap","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"initializeStrategy","stateMutability":"nonpayable","inputs":[{"name":"ethPrice","type":"uint256"}],"outputs":[]}
]`

// Parsed ABIs shared by the typed wrappers.
var (
	VaultABI       = mustParseABI("vault", vaultABIJSON)
	OperatorABI    = mustParseABI("operator", operatorABIJSON)
	RebalancerABI  = mustParseABI("rebalancer", rebalancerABIJSON)
	ERC20ABI       = mustParseABI("erc20", erc20ABIJSON)
	FactoryABI     = mustParseABI("factory", factoryABIJSON)
	SwapABI        = mustParseABI("swap", swapABIJSON)
	PeripheryABI   = mustParseABI("periphery", peripheryABIJSON)
	EVCABI         = mustParseABI("evc", evcABIJSON)
	EulerVaultABI  = mustParseABI("euler-vault", eulerVaultABIJSON)
	DeltaHedgerABI = mustParseABI("delta-hedger", deltaHedgerABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse %s abi: %v", name, err))
	}
	return parsed
}
