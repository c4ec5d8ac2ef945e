package server

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"deltavault/chain"
	"deltavault/chain/permit"
	"deltavault/observability"
)

type permitRequest struct {
	Owner    string `json:"owner"`
	Token    string `json:"token"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Amount   string `json:"amount"`
	Deadline string `json:"deadline"`
}

// toRequest resolves defaults: the configured USDC token, the vault as
// spender, and value either in base units or as a decimal token amount.
func (s *Server) toPermitRequest(in permitRequest) (permit.Request, error) {
	var (
		req permit.Request
		err error
	)
	if req.Owner, err = chain.ParseAddress(in.Owner); err != nil {
		return req, errField("owner", err)
	}
	req.Token = s.contracts.USDC
	if strings.TrimSpace(in.Token) != "" {
		if req.Token, err = chain.ParseAddress(in.Token); err != nil {
			return req, errField("token", err)
		}
	}
	req.Spender = s.contracts.Vault
	if strings.TrimSpace(in.Spender) != "" {
		if req.Spender, err = chain.ParseAddress(in.Spender); err != nil {
			return req, errField("spender", err)
		}
	}
	switch {
	case strings.TrimSpace(in.Value) != "":
		req.Value, err = chain.ParseBaseUnits(in.Value)
	case strings.TrimSpace(in.Amount) != "":
		req.Value, err = chain.ParseUnits(in.Amount, chain.USDCDecimals)
	default:
		err = fmt.Errorf("amount required")
	}
	if err != nil {
		return req, errField("value", err)
	}
	if strings.TrimSpace(in.Deadline) != "" {
		if req.Deadline, err = chain.ParseBaseUnits(in.Deadline); err != nil {
			return req, errField("deadline", err)
		}
	}
	return req, nil
}

func (s *Server) handleBuildPermit(w http.ResponseWriter, r *http.Request) {
	var in permitRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.toPermitRequest(in)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.permits.Build(r.Context(), req)
	if err != nil {
		if errors.Is(err, permit.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeChainError(w, "permit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type splitRequest struct {
	Signature string      `json:"signature"`
	Deadline  string      `json:"deadline"`
	Digest    common.Hash `json:"digest"`
}

func (s *Server) handleSplitPermit(w http.ResponseWriter, r *http.Request) {
	var in splitRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := permit.SplitHex(in.Signature)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := map[string]any{"v": sig.V, "r": sig.R, "s": sig.S}
	if strings.TrimSpace(in.Deadline) != "" {
		deadline, err := chain.ParseBaseUnits(in.Deadline)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "deadline: "+err.Error())
			return
		}
		resp["deadline"] = deadline.String()
	}
	if in.Digest != (common.Hash{}) {
		signer, err := permit.Recover(in.Digest, sig)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp["signer"] = signer
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type calldataRequest struct {
	Action    string `json:"action"`
	Amount    string `json:"amount"`
	Shares    string `json:"shares"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
	Pool      string `json:"pool"`
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	Bound     string `json:"bound"`
	Receiver  string `json:"receiver"`
}

func (s *Server) handleCalldata(w http.ResponseWriter, r *http.Request) {
	var in calldataRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, status, err := s.buildCalldata(in)
	if err != nil {
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) buildCalldata(in calldataRequest) (chain.TxRequest, int, error) {
	bad := func(err error) (chain.TxRequest, int, error) {
		return chain.TxRequest{}, http.StatusBadRequest, err
	}
	missing := func(name string) (chain.TxRequest, int, error) {
		return chain.TxRequest{}, http.StatusServiceUnavailable, fmt.Errorf("%s contract not configured", name)
	}
	vault := chain.NewVault(s.contracts.Vault, nil)

	switch strings.TrimSpace(in.Action) {
	case "deposit":
		if s.contracts.Vault == (common.Address{}) {
			return missing("vault")
		}
		amount, err := chain.ParseUnits(in.Amount, chain.USDCDecimals)
		if err != nil {
			return bad(errField("amount", err))
		}
		req, err := vault.DepositTx(amount)
		return req, http.StatusBadRequest, err
	case "depositWithPermit":
		if s.contracts.Vault == (common.Address{}) {
			return missing("vault")
		}
		amount, err := chain.ParseUnits(in.Amount, chain.USDCDecimals)
		if err != nil {
			return bad(errField("amount", err))
		}
		deadline, err := chain.ParseBaseUnits(in.Deadline)
		if err != nil {
			return bad(errField("deadline", err))
		}
		sig, err := permit.SplitHex(in.Signature)
		if err != nil {
			return bad(errField("signature", err))
		}
		req, err := vault.DepositWithPermitTx(amount, deadline, sig.V, sig.R, sig.S)
		return req, http.StatusBadRequest, err
	case "withdraw":
		if s.contracts.Vault == (common.Address{}) {
			return missing("vault")
		}
		shares, err := chain.ParseUnits(in.Shares, chain.ShareDecimals)
		if err != nil {
			return bad(errField("shares", err))
		}
		req, err := vault.WithdrawTx(shares)
		return req, http.StatusBadRequest, err
	case "approve":
		if s.contracts.USDC == (common.Address{}) || s.contracts.Vault == (common.Address{}) {
			return missing("usdc")
		}
		amount, err := chain.ParseUnits(in.Amount, chain.USDCDecimals)
		if err != nil {
			return bad(errField("amount", err))
		}
		req, err := chain.NewToken(s.contracts.USDC, nil).ApproveTx(s.contracts.Vault, amount)
		return req, http.StatusBadRequest, err
	case "uninstallPool":
		if s.contracts.Factory == (common.Address{}) {
			return missing("factory")
		}
		req, err := chain.NewFactory(s.contracts.Factory, nil).UninstallPoolTx()
		return req, http.StatusBadRequest, err
	case "swapExactIn", "swapExactOut":
		if s.contracts.Periphery == (common.Address{}) {
			return missing("periphery")
		}
		order, err := swapOrder(in)
		if err != nil {
			return bad(err)
		}
		periphery := chain.NewPeriphery(s.contracts.Periphery, nil)
		var req chain.TxRequest
		if in.Action == "swapExactIn" {
			req, err = periphery.SwapExactInTx(order)
		} else {
			req, err = periphery.SwapExactOutTx(order)
		}
		return req, http.StatusBadRequest, err
	default:
		return bad(fmt.Errorf("unsupported action %q", in.Action))
	}
}

func swapOrder(in calldataRequest) (chain.SwapOrder, error) {
	var (
		order chain.SwapOrder
		err   error
	)
	addrs := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"pool", in.Pool, &order.Pool},
		{"tokenIn", in.TokenIn, &order.TokenIn},
		{"tokenOut", in.TokenOut, &order.TokenOut},
		{"receiver", in.Receiver, &order.Receiver},
	}
	for _, a := range addrs {
		if *a.dst, err = chain.ParseAddress(a.raw); err != nil {
			return order, errField(a.name, err)
		}
	}
	amounts := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"amount", in.Amount, &order.Amount},
		{"bound", in.Bound, &order.Bound},
		{"deadline", in.Deadline, &order.Deadline},
	}
	for _, a := range amounts {
		if *a.dst, err = chain.ParseBaseUnits(a.raw); err != nil {
			return order, errField(a.name, err)
		}
	}
	return order, nil
}

type relayRequest struct {
	RawTransaction string `json:"rawTransaction"`
	Wait           bool   `json:"wait"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var in relayRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chainID, err := s.chainID(r.Context())
	if err != nil {
		s.writeChainError(w, "chain id", err)
		return
	}
	res, err := chain.RelayRaw(r.Context(), s.backend, chainID, in.RawTransaction)
	observability.VaultGateway().ObserveSubmission("relay", err)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrChainMismatch), errors.Is(err, chain.ErrInvalidRawTx):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeChainError(w, "relay", err)
		}
		return
	}
	resp := map[string]any{"hash": res.Hash, "from": res.From, "to": res.To, "nonce": res.Nonce}
	if !in.Wait {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TxTimeout)
	defer cancel()
	receipt, err := chain.WaitMined(ctx, s.backend, res.Hash, s.cfg.ReceiptPoll)
	if err != nil {
		resp["error"] = err.Error()
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.writeJSON(w, status, resp)
		return
	}
	resp["blockNumber"] = receipt.BlockNumber.String()
	resp["status"] = receipt.Status
	resp["gasUsed"] = receipt.GasUsed
	s.writeJSON(w, http.StatusOK, resp)
}
