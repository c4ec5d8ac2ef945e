package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"deltavault/services/vaultgw/pools"
)

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := pools.ListOptions{Sort: query.Get("sort"), Owner: query.Get("owner")}
	if raw := strings.TrimSpace(query.Get("feeTier")); raw != "" {
		fee, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "feeTier must be a valid number")
			return
		}
		opts.FeeTier = &fee
	}
	list, err := s.pools.List(r.Context(), opts)
	if err != nil {
		if errors.Is(err, pools.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("list pools failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch pools")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to create pool")
		return
	}
	in, err := pools.ParseCreate(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := s.pools.Create(r.Context(), in)
	if err != nil {
		s.logger.Error("create pool failed", "error", err)
		s.writeError(w, http.StatusBadRequest, "Failed to create pool: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, pool)
}

// poolID parses the route id. Malformed ids cannot exist and report 404.
func (s *Server) poolID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Pool not found")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	pool, err := s.pools.Get(r.Context(), id)
	switch {
	case errors.Is(err, pools.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Pool not found")
	case err != nil:
		s.logger.Error("get pool failed", "pool", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch pool")
	default:
		s.writeJSON(w, http.StatusOK, pool)
	}
}

func (s *Server) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to update pool")
		return
	}
	patch, err := pools.ParsePatch(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := s.pools.Update(r.Context(), id, patch)
	switch {
	case errors.Is(err, pools.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Pool not found")
	case err != nil:
		s.logger.Error("update pool failed", "pool", id, "error", err)
		s.writeError(w, http.StatusBadRequest, "Failed to update pool")
	default:
		s.writeJSON(w, http.StatusOK, pool)
	}
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	err := s.pools.Delete(r.Context(), id)
	switch {
	case errors.Is(err, pools.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Pool not found")
	case err != nil:
		s.logger.Error("delete pool failed", "pool", id, "error", err)
		s.writeError(w, http.StatusBadRequest, "Failed to delete pool")
	default:
		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleAddPoolTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	in, err := pools.ParseTransaction(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.pools.AddTransaction(r.Context(), id, in)
	switch {
	case errors.Is(err, pools.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Pool not found")
	case err != nil:
		s.logger.Error("record pool transaction failed", "pool", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to record transaction")
	default:
		s.writeJSON(w, http.StatusCreated, record)
	}
}
