package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/types"
)

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req proposalPayload
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := s.validator.Validate(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return
	}

	decision, err := s.engine.Decide(r.Context(), req.toDomain())
	if err != nil {
		s.respondDecisionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDecideBatch(w http.ResponseWriter, r *http.Request) {
	var req decideBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := s.validator.Validate(req); len(errs) > 0 {
		respondValidationErrors(w, errs)
		return
	}

	proposals := make([]types.ChangeProposal, len(req.Proposals))
	for i, p := range req.Proposals {
		proposals[i] = p.toDomain()
	}

	mode := s.batchMode
	if req.Mode != "" {
		mode = escalation.BatchMode(req.Mode)
	}

	batch, err := s.engine.DecideBatch(r.Context(), proposals, mode)
	if err != nil {
		s.respondDecisionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, batch)
}

// respondDecisionError keeps "policy says no" apart from "policy engine
// is down": the former is a normal decision, the latter a 503
func (s *Server) respondDecisionError(w http.ResponseWriter, err error) {
	switch {
	case types.IsInvalidProposal(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case types.IsPolicyEvaluationError(err):
		respondError(w, http.StatusServiceUnavailable, "policy evaluation unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "decision failed")
	}
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	status := types.ApprovalPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = types.ApprovalStatus(strings.ToUpper(raw))
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown approval status %q", raw))
			return
		}
	}

	approvals, err := s.approvals.ByStatus(r.Context(), status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list approvals")
		return
	}
	if approvals == nil {
		approvals = []types.Approval{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	approval, err := s.approvals.Get(r.Context(), approvalID)
	if err != nil {
		s.respondApprovalError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, approval)
}

func (s *Server) handleApproveApproval(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, s.approvals.Approve)
}

func (s *Server) handleRejectApproval(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, s.approvals.Reject)
}

// resolveApproval runs an approve or reject transition. The resolver is
// the authenticated actor; the body carries only an optional reason and
// may be empty.
func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, id, resolver, reason string) (types.Approval, error)) {
	approvalID := chi.URLParam(r, "approvalID")

	var req resolveApprovalRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	approval, err := transition(r.Context(), approvalID, GetActor(r), req.Reason)
	if err != nil {
		s.respondApprovalError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, approval)
}

func (s *Server) handleConsumeApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	approval, err := s.approvals.Consume(r.Context(), approvalID)
	if err != nil {
		s.respondApprovalError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, approval)
}

func (s *Server) respondApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "approval not found")
	case errors.Is(err, escalation.ErrApprovalNotPending):
		respondError(w, http.StatusConflict, escalation.ErrApprovalNotPending.Error())
	case errors.Is(err, escalation.ErrApprovalNotApproved):
		respondError(w, http.StatusConflict, escalation.ErrApprovalNotApproved.Error())
	case errors.Is(err, escalation.ErrApprovalExpired):
		respondError(w, http.StatusGone, escalation.ErrApprovalExpired.Error())
	default:
		respondError(w, http.StatusInternalServerError, "approval operation failed")
	}
}
