// Package server exposes the admission engine over HTTP: gate checks,
// precious flags, break-glass overrides, escalation decisions, the
// approval protocol and read access to the audit trail. Every mutating
// route runs behind JWT auth so the trail can attribute actions to a
// principal.
package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/telemetry"
)

// Config carries what the HTTP layer needs beyond its collaborators
type Config struct {
	JWTSecret string
	AuditDir  string
	BatchMode escalation.BatchMode
}

// Server binds the engines to the HTTP API
type Server struct {
	engine    *escalation.Engine
	approvals *escalation.Approvals
	gates     *gate.Controller
	auditDir  string
	batchMode escalation.BatchMode
	jwtSecret string
	validator *Validator
	logger    *telemetry.Logger
}

// New wires the HTTP layer. The JWT secret is mandatory; an API that
// authorizes destructive changes does not run open.
func New(engine *escalation.Engine, approvals *escalation.Approvals, gates *gate.Controller, cfg Config, logger *telemetry.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required: set server.jwt_secret or CHANGEGATE_JWT_SECRET")
	}
	if logger == nil {
		logger = telemetry.NewLogger("server")
	}

	mode := cfg.BatchMode
	if mode == "" {
		mode = escalation.BatchMaxRisk
	}

	return &Server{
		engine:    engine,
		approvals: approvals,
		gates:     gates,
		auditDir:  cfg.AuditDir,
		batchMode: mode,
		jwtSecret: cfg.JWTSecret,
		validator: NewValidator(),
		logger:    logger,
	}, nil
}

// Router assembles the full route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(Recovery(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		MaxAge:         300,
	}))

	// Probes and metrics stay unauthenticated for the platform
	r.Group(func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)
		r.Get("/readyz", s.handleReadyz)
		r.Method(http.MethodGet, "/metrics", metricsHandler())
	})

	r.Group(func(r chi.Router) {
		r.Use(Auth(s.jwtSecret))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/gate/check", s.handleGateCheck)

			r.Route("/precious", func(r chi.Router) {
				r.Get("/", s.handleListPrecious)
				r.Post("/", s.handleFlagPrecious)
				r.Get("/{resourceID}", s.handleGetPrecious)
			})

			r.Route("/overrides", func(r chi.Router) {
				r.Get("/", s.handleListOverrides)
				r.Post("/", s.handleIssueOverride)
				r.Delete("/{resourceID}", s.handleRevokeOverride)
			})

			r.Route("/decisions", func(r chi.Router) {
				r.Post("/", s.handleDecide)
				r.Post("/batch", s.handleDecideBatch)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", s.handleListApprovals)
				r.Get("/{approvalID}", s.handleGetApproval)
				r.Post("/{approvalID}/approve", s.handleApproveApproval)
				r.Post("/{approvalID}/reject", s.handleRejectApproval)
				r.Post("/{approvalID}/consume", s.handleConsumeApproval)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/events", s.handleAuditEvents)
				r.Get("/verify", s.handleAuditVerify)
			})
		})
	})

	return r
}

// metricsHandler serves the OTEL prometheus export. Telemetry may not
// be initialized in tests; the default handler covers that.
func metricsHandler() http.Handler {
	if telemetry.PrometheusRegistry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz proves the store answers before reporting ready
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.gates.ActiveOverrideCount(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
