package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/types"
)

// handleGateCheck answers whether an operation may proceed. A blocked
// result is still HTTP 200; the ruling lives in the body.
func (s *Server) handleGateCheck(w http.ResponseWriter, r *http.Request) {
	var req gateCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := s.validator.Validate(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return
	}

	var (
		result gate.CheckResult
		err    error
	)
	if req.Proposal != nil {
		result, err = s.gates.CheckProposal(r.Context(), req.Proposal.toDomain())
	} else {
		result, err = s.gates.Check(r.Context(), req.ResourceID, types.OperationKind(req.Operation))
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "gate check failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleFlagPrecious(w http.ResponseWriter, r *http.Request) {
	var req flagPreciousRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := s.validator.Validate(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return
	}

	record, err := req.toRecord()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.gates.FlagPrecious(r.Context(), record); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store precious record")
		return
	}

	stored, _, err := s.gates.GetPrecious(r.Context(), record.ResourceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load precious record")
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleGetPrecious(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	record, found, err := s.gates.GetPrecious(r.Context(), resourceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load precious record")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("resource %s is not flagged precious", resourceID))
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleListPrecious(w http.ResponseWriter, r *http.Request) {
	records, err := s.gates.ListPrecious(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list precious records")
		return
	}
	if records == nil {
		records = []types.PreciousResource{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"resources": records})
}

func (s *Server) handleIssueOverride(w http.ResponseWriter, r *http.Request) {
	var req issueOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := s.validator.Validate(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid ttl %q", req.TTL))
			return
		}
		ttl = parsed
	}

	override, err := s.gates.IssueOverride(r.Context(), req.ResourceID, GetActor(r), req.Reason, ttl)
	if err != nil {
		if errors.Is(err, gate.ErrOverrideTTLTooLong) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to issue override")
		return
	}

	respondJSON(w, http.StatusCreated, override)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, statuses, err := s.gates.Overrides(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}

	views := make([]overrideView, len(overrides))
	for i := range overrides {
		views[i] = overrideView{BreakGlassOverride: overrides[i], Status: statuses[i]}
	}

	respondJSON(w, http.StatusOK, map[string]any{"overrides": views})
}

func (s *Server) handleRevokeOverride(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	override, err := s.gates.RevokeOverride(r.Context(), resourceID)
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrNoOverride):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, gate.ErrOverrideNotActive):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "failed to revoke override")
		}
		return
	}

	respondJSON(w, http.StatusOK, override)
}
