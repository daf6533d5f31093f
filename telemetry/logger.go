package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Info().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.AsString())
	}
}

// Convenience methods for decision flow operations

func (l *Logger) LogDecision(ctx context.Context, targetID, field, risk, outcome, action string) {
	l.WithContext(ctx).Info().
		Str("target_id", targetID).
		Str("field", field).
		Str("risk_class", risk).
		Str("policy_outcome", outcome).
		Str("action", action).
		Str("operation", "decide").
		Msg("escalation decided")
}

func (l *Logger) LogGateCheck(ctx context.Context, resourceID, operation, state string) {
	l.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Str("operation_kind", operation).
		Str("gate_state", state).
		Str("operation", "gate_check").
		Msg("gate checked")
}

func (l *Logger) LogOverrideIssued(ctx context.Context, resourceID, approver string, expiresAt time.Time) {
	l.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Str("approver", approver).
		Time("expires_at", expiresAt).
		Str("operation", "override_issue").
		Msg("break-glass override issued")
}

func (l *Logger) LogApprovalResolved(ctx context.Context, approvalID, status, resolver string) {
	l.WithContext(ctx).Info().
		Str("approval_id", approvalID).
		Str("status", status).
		Str("resolver", resolver).
		Str("operation", "approval_resolve").
		Msg("approval request resolved")
}

func (l *Logger) LogEvaluatorError(ctx context.Context, engine string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("engine", engine).
		Str("operation", "policy_evaluate").
		Msg("policy evaluator failed")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
