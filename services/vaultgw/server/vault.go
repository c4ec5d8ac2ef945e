package server

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"deltavault/chain"
)

// amount renders a base-unit integer both raw and scaled.
type amount struct {
	Raw       string          `json:"raw"`
	Formatted decimal.Decimal `json:"formatted"`
}

func amountOf(v *big.Int, decimals int32) amount {
	if v == nil {
		v = new(big.Int)
	}
	return amount{Raw: v.String(), Formatted: chain.FormatUnits(v, decimals)}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleVaultMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.Vault, "vault") {
		return
	}
	m, err := chain.NewVault(s.contracts.Vault, s.backend).Metrics(r.Context())
	if err != nil {
		s.writeChainError(w, "getVaultMetrics", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"totalSupply":        amountOf(m.TotalSupply, chain.ShareDecimals),
		"totalAssets":        amountOf(m.TotalAssets, chain.USDCDecimals),
		"sharePrice":         amountOf(m.SharePrice, chain.USDCDecimals),
		"lastPrice":          amountOf(m.LastPrice, chain.USDCDecimals),
		"depositsEnabled":    m.DepositsEnabled,
		"withdrawalsEnabled": m.WithdrawalsEnabled,
	})
}

func (s *Server) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.Vault, "vault") {
		return
	}
	account, err := chain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shares, err := chain.NewVault(s.contracts.Vault, s.backend).BalanceOf(r.Context(), account)
	if err != nil {
		s.writeChainError(w, "balanceOf", err)
		return
	}
	resp := map[string]any{"account": account, "shares": amountOf(shares, chain.ShareDecimals)}
	if s.contracts.USDC != (common.Address{}) {
		usdc, err := chain.NewToken(s.contracts.USDC, s.backend).BalanceOf(r.Context(), account)
		if err != nil {
			s.writeChainError(w, "usdc.balanceOf", err)
			return
		}
		resp["usdc"] = amountOf(usdc, chain.USDCDecimals)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVaultAllowance(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.USDC, "usdc") || !s.requireContract(w, s.contracts.Vault, "vault") {
		return
	}
	owner, err := chain.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	allowance, err := chain.NewToken(s.contracts.USDC, s.backend).Allowance(r.Context(), owner, s.contracts.Vault)
	if err != nil {
		s.writeChainError(w, "allowance", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":     owner,
		"spender":   s.contracts.Vault,
		"allowance": amountOf(allowance, chain.USDCDecimals),
	})
}

// handleVaultAsset describes the deposit token.
func (s *Server) handleVaultAsset(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.USDC, "usdc") {
		return
	}
	token := chain.NewToken(s.contracts.USDC, s.backend)
	var (
		name, symbol string
		decimals     uint8
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		name, err = token.Name(ctx)
		return err
	})
	g.Go(func() (err error) {
		symbol, err = token.Symbol(ctx)
		return err
	})
	g.Go(func() (err error) {
		decimals, err = token.Decimals(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeChainError(w, "erc20 metadata", err)
		return
	}
	if int32(decimals) != chain.USDCDecimals {
		s.logger.Warn("vaultgw: asset decimals differ from the configured precision",
			"token", s.contracts.USDC.Hex(), "decimals", decimals, "expected", chain.USDCDecimals)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address":       s.contracts.USDC,
		"name":          name,
		"symbol":        symbol,
		"decimals":      decimals,
		"shareDecimals": chain.ShareDecimals,
	})
}

func (s *Server) handleOperatorHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.Operator, "operator") {
		return
	}
	operator := chain.NewOperator(s.contracts.Operator, s.backend)
	var (
		h     chain.HealthMetrics
		owner common.Address
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		h, err = operator.HealthMetrics(ctx)
		return err
	})
	g.Go(func() (err error) {
		owner, err = operator.Owner(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeChainError(w, "getHealthMetrics", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":      owner,
		"currentLTV": bigString(h.CurrentLTV),
		"collateral": amountOf(h.Collateral, chain.USDCDecimals),
		"debt":       amountOf(h.Debt, chain.USDCDecimals),
		"liquidity":  amountOf(h.Liquidity, chain.USDCDecimals),
		"delta":      amountOf(h.Delta, chain.ETHDecimals),
	})
}

func (s *Server) handleRebalancerStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.Rebalancer, "rebalancer") {
		return
	}
	st, err := chain.NewRebalancer(s.contracts.Rebalancer, s.backend).Status(r.Context())
	if err != nil {
		s.writeChainError(w, "getRebalanceStatus", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"shouldRebalance":           st.ShouldRebalance,
		"currentPrice":              amountOf(st.CurrentPrice, chain.USDCDecimals),
		"lastPrice":                 amountOf(st.LastPrice, chain.USDCDecimals),
		"deviationBps":              bigString(st.DeviationBps),
		"secondsSinceLastRebalance": bigString(st.SecondsSinceLastRebalance),
		"rebalanceCount":            bigString(st.RebalanceCount),
	})
}
