package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"deltavault/chain"
)

const maxPoolPage = 100

func (s *Server) handleAMMPools(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.Factory, "factory") {
		return
	}
	factory := chain.NewFactory(s.contracts.Factory, s.backend)
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("account")); raw != "" {
		account, err := chain.ParseAddress(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "account: "+err.Error())
			return
		}
		pool, err := factory.PoolByEulerAccount(r.Context(), account)
		if err != nil {
			s.writeChainError(w, "poolByEulerAccount", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"account": account, "pool": pool})
		return
	}

	offset, limit, err := pageParams(query.Get("offset"), query.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rawA, rawB := strings.TrimSpace(query.Get("asset0")), strings.TrimSpace(query.Get("asset1"))
	byPair := rawA != "" || rawB != ""
	var asset0, asset1 common.Address
	if byPair {
		if asset0, err = chain.ParseAddress(rawA); err != nil {
			s.writeError(w, http.StatusBadRequest, "asset0: "+err.Error())
			return
		}
		if asset1, err = chain.ParseAddress(rawB); err != nil {
			s.writeError(w, http.StatusBadRequest, "asset1: "+err.Error())
			return
		}
	}

	var total *big.Int
	if byPair {
		total, err = factory.PoolsByPairLength(r.Context(), asset0, asset1)
	} else {
		total, err = factory.PoolsLength(r.Context())
	}
	if err != nil {
		s.writeChainError(w, "poolsLength", err)
		return
	}
	count := total.Uint64()
	end := offset + limit
	if end > count {
		end = count
	}
	pools := []common.Address{}
	if offset < end {
		if byPair {
			pools, err = factory.PoolsByPairSlice(r.Context(), asset0, asset1, offset, end)
		} else {
			pools, err = factory.PoolsSlice(r.Context(), offset, end)
		}
		if err != nil {
			s.writeChainError(w, "poolsSlice", err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"total": count, "offset": offset, "pools": pools})
}

func pageParams(rawOffset, rawLimit string) (uint64, uint64, error) {
	var offset, limit uint64 = 0, 50
	var err error
	if rawOffset = strings.TrimSpace(rawOffset); rawOffset != "" {
		if offset, err = strconv.ParseUint(rawOffset, 10, 64); err != nil {
			return 0, 0, errBadPage
		}
	}
	if rawLimit = strings.TrimSpace(rawLimit); rawLimit != "" {
		if limit, err = strconv.ParseUint(rawLimit, 10, 64); err != nil || limit == 0 {
			return 0, 0, errBadPage
		}
	}
	if limit > maxPoolPage {
		limit = maxPoolPage
	}
	return offset, limit, nil
}

func (s *Server) handleAMMPool(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool := chain.NewSwapPool(addr, s.backend)

	var (
		params         chain.SwapParams
		reserves       chain.Reserves
		asset0, asset1 common.Address
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		params, err = pool.Params(ctx)
		return err
	})
	g.Go(func() (err error) {
		reserves, err = pool.Reserves(ctx)
		return err
	})
	g.Go(func() (err error) {
		asset0, asset1, err = pool.Assets(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeChainError(w, "eulerswap pool", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"asset0":  asset0,
		"asset1":  asset1,
		"params": map[string]any{
			"vault0":               params.Vault0,
			"vault1":               params.Vault1,
			"eulerAccount":         params.EulerAccount,
			"equilibriumReserve0":  bigString(params.EquilibriumReserve0),
			"equilibriumReserve1":  bigString(params.EquilibriumReserve1),
			"priceX":               bigString(params.PriceX),
			"priceY":               bigString(params.PriceY),
			"concentrationX":       bigString(params.ConcentrationX),
			"concentrationY":       bigString(params.ConcentrationY),
			"fee":                  bigString(params.Fee),
			"protocolFee":          bigString(params.ProtocolFee),
			"protocolFeeRecipient": params.ProtocolFeeRecipient,
		},
		"reserves": map[string]any{
			"reserve0": bigString(reserves.Reserve0),
			"reserve1": bigString(reserves.Reserve1),
			"status":   reserves.Status,
		},
	})
}

type computePoolRequest struct {
	Vault0               string `json:"vault0"`
	Vault1               string `json:"vault1"`
	EulerAccount         string `json:"eulerAccount"`
	EquilibriumReserve0  string `json:"equilibriumReserve0"`
	EquilibriumReserve1  string `json:"equilibriumReserve1"`
	PriceX               string `json:"priceX"`
	PriceY               string `json:"priceY"`
	ConcentrationX       string `json:"concentrationX"`
	ConcentrationY       string `json:"concentrationY"`
	Fee                  string `json:"fee"`
	ProtocolFee          string `json:"protocolFee"`
	ProtocolFeeRecipient string `json:"protocolFeeRecipient"`
	Salt                 string `json:"salt"`
}

func (in computePoolRequest) params() (chain.SwapParams, [32]byte, error) {
	var (
		params chain.SwapParams
		salt   [32]byte
		err    error
	)
	addrs := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"vault0", in.Vault0, &params.Vault0},
		{"vault1", in.Vault1, &params.Vault1},
		{"eulerAccount", in.EulerAccount, &params.EulerAccount},
		{"protocolFeeRecipient", in.ProtocolFeeRecipient, &params.ProtocolFeeRecipient},
	}
	for _, a := range addrs {
		if a.name == "protocolFeeRecipient" && strings.TrimSpace(a.raw) == "" {
			continue
		}
		if *a.dst, err = chain.ParseAddress(a.raw); err != nil {
			return params, salt, errField(a.name, err)
		}
	}
	ints := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"equilibriumReserve0", in.EquilibriumReserve0, &params.EquilibriumReserve0},
		{"equilibriumReserve1", in.EquilibriumReserve1, &params.EquilibriumReserve1},
		{"priceX", in.PriceX, &params.PriceX},
		{"priceY", in.PriceY, &params.PriceY},
		{"concentrationX", in.ConcentrationX, &params.ConcentrationX},
		{"concentrationY", in.ConcentrationY, &params.ConcentrationY},
		{"fee", in.Fee, &params.Fee},
		{"protocolFee", in.ProtocolFee, &params.ProtocolFee},
	}
	for _, n := range ints {
		if *n.dst, err = chain.ParseBaseUnits(n.raw); err != nil {
			return params, salt, errField(n.name, err)
		}
	}
	raw, err := hexutil.Decode(strings.TrimSpace(in.Salt))
	if err != nil {
		return params, salt, errField("salt", err)
	}
	if len(raw) != len(salt) {
		return params, salt, fmt.Errorf("salt: want %d bytes, got %d", len(salt), len(raw))
	}
	copy(salt[:], raw)
	return params, salt, nil
}

// handleComputePoolAddress predicts where the factory would deploy a pool
// with the given parameters and salt.
func (s *Server) handleComputePoolAddress(w http.ResponseWriter, r *http.Request) {
	if !s.requireContract(w, s.contracts.Factory, "factory") {
		return
	}
	var in computePoolRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, salt, err := in.params()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := chain.NewFactory(s.contracts.Factory, s.backend).ComputePoolAddress(r.Context(), params, salt)
	if err != nil {
		s.writeChainError(w, "computePoolAddress", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pool": pool, "salt": hexutil.Encode(salt[:])})
}

type swapQuery struct {
	pool     common.Address
	tokenIn  common.Address
	tokenOut common.Address
}

func parseSwapQuery(r *http.Request) (swapQuery, error) {
	query := r.URL.Query()
	var (
		q   swapQuery
		err error
	)
	if q.pool, err = chain.ParseAddress(query.Get("pool")); err != nil {
		return q, errField("pool", err)
	}
	if q.tokenIn, err = chain.ParseAddress(query.Get("tokenIn")); err != nil {
		return q, errField("tokenIn", err)
	}
	if q.tokenOut, err = chain.ParseAddress(query.Get("tokenOut")); err != nil {
		return q, errField("tokenOut", err)
	}
	return q, nil
}

func (s *Server) handleAMMQuote(w http.ResponseWriter, r *http.Request) {
	q, err := parseSwapQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amountIn, err := chain.ParseBaseUnits(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}
	exactIn := true
	if raw := strings.TrimSpace(r.URL.Query().Get("exactIn")); raw != "" {
		if exactIn, err = strconv.ParseBool(raw); err != nil {
			s.writeError(w, http.StatusBadRequest, "exactIn must be a boolean")
			return
		}
	}

	var quote *big.Int
	switch {
	case s.contracts.Periphery != (common.Address{}) && exactIn:
		quote, err = chain.NewPeriphery(s.contracts.Periphery, s.backend).QuoteExactInput(r.Context(), q.pool, q.tokenIn, q.tokenOut, amountIn)
	case s.contracts.Periphery != (common.Address{}):
		quote, err = chain.NewPeriphery(s.contracts.Periphery, s.backend).QuoteExactOutput(r.Context(), q.pool, q.tokenIn, q.tokenOut, amountIn)
	default:
		quote, err = chain.NewSwapPool(q.pool, s.backend).ComputeQuote(r.Context(), q.tokenIn, q.tokenOut, amountIn, exactIn)
	}
	if err != nil {
		s.writeChainError(w, "quote", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pool":     q.pool,
		"tokenIn":  q.tokenIn,
		"tokenOut": q.tokenOut,
		"amount":   amountIn.String(),
		"exactIn":  exactIn,
		"quote":    quote.String(),
	})
}

func (s *Server) handleAMMLimits(w http.ResponseWriter, r *http.Request) {
	q, err := parseSwapQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var limits chain.Limits
	if s.contracts.Periphery != (common.Address{}) {
		limits, err = chain.NewPeriphery(s.contracts.Periphery, s.backend).Limits(r.Context(), q.pool, q.tokenIn, q.tokenOut)
	} else {
		limits, err = chain.NewSwapPool(q.pool, s.backend).Limits(r.Context(), q.tokenIn, q.tokenOut)
	}
	if err != nil {
		s.writeChainError(w, "getLimits", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"limitIn":  bigString(limits.LimitIn),
		"limitOut": bigString(limits.LimitOut),
	})
}
