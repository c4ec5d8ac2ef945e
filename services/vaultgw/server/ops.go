package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"deltavault/chain"
	"deltavault/chain/permit"
	gwmw "deltavault/gateway/middleware"
	"deltavault/observability"
	"deltavault/services/vaultgw/setup"
)

type txResponse struct {
	Method      string         `json:"method"`
	To          common.Address `json:"to"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber string         `json:"blockNumber"`
	GasUsed     uint64         `json:"gasUsed"`
	Status      uint64         `json:"status"`
}

func (s *Server) requireOperator(w http.ResponseWriter) bool {
	if s.operator == nil {
		s.writeError(w, http.StatusServiceUnavailable, errOperatorAbsent.Error())
		return false
	}
	return true
}

// execute signs req with the operator key and waits for it to be mined.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, req chain.TxRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TxTimeout)
	defer cancel()
	receipt, err := s.operator.Execute(ctx, req)
	observability.VaultGateway().ObserveSubmission("operator", err)
	if err != nil {
		s.writeChainError(w, req.Method, err)
		return
	}
	s.logger.Info("operator transaction mined",
		"method", req.Method,
		"tx", receipt.TxHash.Hex(),
		"subject", gwmw.SubjectFromContext(r.Context()),
		"scopes", gwmw.ScopesFromContext(r.Context()))
	s.writeJSON(w, http.StatusOK, txResponse{
		Method:      req.Method,
		To:          req.To,
		TxHash:      receipt.TxHash,
		BlockNumber: bigString(receipt.BlockNumber),
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
	})
}

// buildAndExecute runs the common path for operator routes: checks the
// operator key and the target contract, builds the call and executes it.
func (s *Server) buildAndExecute(w http.ResponseWriter, r *http.Request, target common.Address, name string, build func() (chain.TxRequest, error)) {
	if !s.requireOperator(w) || !s.requireContract(w, target, name) {
		return
	}
	req, err := build()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.execute(w, r, req)
}

func (s *Server) handleOpsRebalance(w http.ResponseWriter, r *http.Request) {
	s.buildAndExecute(w, r, s.contracts.Rebalancer, "rebalancer", func() (chain.TxRequest, error) {
		return chain.NewRebalancer(s.contracts.Rebalancer, nil).RebalanceTx()
	})
}

func (s *Server) handleOpsOperatorRebalance(w http.ResponseWriter, r *http.Request) {
	s.buildAndExecute(w, r, s.contracts.Operator, "operator", func() (chain.TxRequest, error) {
		return chain.NewOperator(s.contracts.Operator, nil).RebalanceTx()
	})
}

type addressRequest struct {
	Vault    string `json:"vault"`
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleOpsSetVault(w http.ResponseWriter, r *http.Request) {
	var in addressRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.buildAndExecute(w, r, s.contracts.Operator, "operator", func() (chain.TxRequest, error) {
		vault, err := chain.ParseAddress(in.Vault)
		if err != nil {
			return chain.TxRequest{}, errField("vault", err)
		}
		return chain.NewOperator(s.contracts.Operator, nil).SetVaultTx(vault)
	})
}

func (s *Server) handleOpsTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var in addressRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.buildAndExecute(w, r, s.contracts.Operator, "operator", func() (chain.TxRequest, error) {
		owner, err := chain.ParseAddress(in.NewOwner)
		if err != nil {
			return chain.TxRequest{}, errField("newOwner", err)
		}
		return chain.NewOperator(s.contracts.Operator, nil).TransferOwnershipTx(owner)
	})
}

func (s *Server) handleOpsRenounceOwnership(w http.ResponseWriter, r *http.Request) {
	s.buildAndExecute(w, r, s.contracts.Operator, "operator", func() (chain.TxRequest, error) {
		return chain.NewOperator(s.contracts.Operator, nil).RenounceOwnershipTx()
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
	Shares string `json:"shares"`
}

// handleOpsDeposit deposits from the operator account: it signs a permit for
// the vault with the operator key and submits depositWithPermit.
func (s *Server) handleOpsDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w) || !s.requireContract(w, s.contracts.Vault, "vault") || !s.requireContract(w, s.contracts.USDC, "usdc") {
		return
	}
	var in amountRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := chain.ParseUnits(in.Amount, chain.USDCDecimals)
	if err != nil || amount.Sign() == 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be a positive USDC amount")
		return
	}
	sig, err := s.permits.Sign(r.Context(), permit.Request{
		Owner:   s.operator.Address(),
		Token:   s.contracts.USDC,
		Spender: s.contracts.Vault,
		Value:   amount,
	}, s.operator.Signer())
	if err != nil {
		if errors.Is(err, permit.ErrSignatureRejected) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeChainError(w, "permit", err)
		return
	}
	req, err := chain.NewVault(s.contracts.Vault, nil).DepositWithPermitTx(amount, sig.Deadline.ToInt(), sig.V, sig.R, sig.S)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.execute(w, r, req)
}

func (s *Server) handleOpsWithdraw(w http.ResponseWriter, r *http.Request) {
	var in amountRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.buildAndExecute(w, r, s.contracts.Vault, "vault", func() (chain.TxRequest, error) {
		shares, err := chain.ParseUnits(in.Shares, chain.ShareDecimals)
		if err != nil {
			return chain.TxRequest{}, errField("shares", err)
		}
		return chain.NewVault(s.contracts.Vault, nil).WithdrawTx(shares)
	})
}

func (s *Server) requireSetup(w http.ResponseWriter) bool {
	if s.setup == nil {
		s.writeError(w, http.StatusServiceUnavailable, "setup workflow not configured")
		return false
	}
	return true
}

func (s *Server) handleOpsSetup(w http.ResponseWriter, r *http.Request) {
	if !s.requireSetup(w) {
		return
	}
	var in setup.Request
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.RequestedBy = gwmw.SubjectFromContext(r.Context())
	run, err := s.setup.Start(r.Context(), in)
	if err != nil {
		s.writeSetupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleOpsSetupStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireSetup(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, setup.ErrRunNotFound.Error())
		return
	}
	run, err := s.setup.Get(r.Context(), id)
	if err != nil {
		s.writeSetupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run, "txHashes": setup.Hashes(run)})
}

func (s *Server) handleOpsSetupResume(w http.ResponseWriter, r *http.Request) {
	if !s.requireSetup(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, setup.ErrRunNotFound.Error())
		return
	}
	run, err := s.setup.Resume(r.Context(), id)
	if err != nil {
		s.writeSetupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) writeSetupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, setup.ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, setup.ErrRunActive), errors.Is(err, setup.ErrRunCompleted):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, setup.ErrNotDiscovered):
		s.writeChainError(w, "setup discovery", err)
	case errors.Is(err, setup.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("setup workflow failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "setup workflow failed")
	}
}
