package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/changegate/changegate/audit"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	query, err := auditQueryFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := audit.Events(s.auditDir, query)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleAuditVerify re-walks the hash chain from genesis. The response
// is 200 either way; Valid in the body is the verdict.
func (s *Server) handleAuditVerify(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, audit.Verify(s.auditDir))
}

func auditQueryFromRequest(r *http.Request) (audit.Query, error) {
	params := r.URL.Query()
	q := audit.Query{
		ResourceID: params.Get("resource_id"),
		Type:       audit.EventType(params.Get("type")),
		Limit:      defaultAuditLimit,
	}

	if raw := params.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Query{}, fmt.Errorf("invalid since timestamp %q", raw)
		}
		q.Since = t
	}
	if raw := params.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Query{}, fmt.Errorf("invalid until timestamp %q", raw)
		}
		q.Until = t
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return audit.Query{}, fmt.Errorf("invalid limit %q", raw)
		}
		if n > maxAuditLimit {
			n = maxAuditLimit
		}
		q.Limit = n
	}

	return q, nil
}
