package telemetry

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTELHook_Run(t *testing.T) {
	tests := []struct {
		name        string
		setupCtx    func() context.Context
		expectTrace bool
	}{
		{
			name:     "no context",
			setupCtx: func() context.Context { return nil },
		},
		{
			name:     "context without span",
			setupCtx: func() context.Context { return context.Background() },
		},
		{
			name: "context with valid span",
			setupCtx: func() context.Context {
				exporter := tracetest.NewInMemoryExporter()
				provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
				tracer := provider.Tracer("test")
				ctx, _ := tracer.Start(context.Background(), "test-span")
				return ctx
			},
			expectTrace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			hook := OTELHook{}
			event := logger.Info().Ctx(tt.setupCtx())

			hook.Run(event, zerolog.InfoLevel, "test message")
			event.Msg("test")

			if tt.expectTrace {
				assert.Contains(t, buf.String(), "trace_id")
				assert.Contains(t, buf.String(), "span_id")
			} else {
				assert.NotContains(t, buf.String(), "trace_id")
			}
		})
	}
}

func TestOTELHook_ErrorLevel(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	hook := OTELHook{}
	event := logger.Error().Ctx(ctx)

	hook.Run(event, zerolog.ErrorLevel, "error message")
	event.Msg("test error")

	span.End()
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "error message", spans[0].Status.Description)
}

func TestNewLogger(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	logger := NewLogger("test-service")
	logger.Info().Msg("test message")

	_ = w.Close()
	os.Stdout = oldStdout

	buf := make([]byte, 1024)
	n, _ := r.Read(buf)
	output := string(buf[:n])

	assert.NotNil(t, logger)
	assert.Contains(t, output, "test-service")
	assert.Contains(t, output, "test message")
}

func TestLogger_WithContext(t *testing.T) {
	logger := NewLogger("test-service")
	ctx := context.Background()

	contextLogger := logger.WithContext(ctx)
	assert.NotNil(t, contextLogger)
}

func TestLogger_LogSpanStart(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("test.key", "test.value"),
		attribute.Int("test.count", 42),
	}

	logger.LogSpanStart(ctx, "test-span", attrs...)

	output := buf.String()
	assert.Contains(t, output, "span started")
	assert.Contains(t, output, "test-span")
	assert.Contains(t, output, "test.value")
	assert.Contains(t, output, "42")
}

func TestLogger_LogSpanEnd(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectError bool
	}{
		{name: "successful span", err: nil},
		{name: "failed span", err: assert.AnError, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := &Logger{Logger: zerolog.New(&buf)}
			ctx := context.Background()

			logger.LogSpanEnd(ctx, "test-span", tt.err)

			output := buf.String()
			assert.Contains(t, output, "test-span")

			if tt.expectError {
				assert.Contains(t, output, "span failed")
				assert.Contains(t, output, "level\":\"error")
			} else {
				assert.Contains(t, output, "span completed")
				assert.Contains(t, output, "level\":\"debug")
			}
		})
	}
}

func TestLogger_ConvenienceMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	logger.LogDecision(ctx, "orders-table", "lambdaMemory", "LOW", "PASS", "AUTO_APPLY")
	assert.Contains(t, buf.String(), "escalation decided")
	assert.Contains(t, buf.String(), "AUTO_APPLY")
	assert.Contains(t, buf.String(), "lambdaMemory")

	buf.Reset()

	logger.LogGateCheck(ctx, "orders-table", "delete", "BLOCKED")
	assert.Contains(t, buf.String(), "gate checked")
	assert.Contains(t, buf.String(), "BLOCKED")

	buf.Reset()

	expires := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	logger.LogOverrideIssued(ctx, "orders-table", "oncall@example.com", expires)
	assert.Contains(t, buf.String(), "break-glass override issued")
	assert.Contains(t, buf.String(), "oncall@example.com")

	buf.Reset()

	logger.LogApprovalResolved(ctx, "apr-123", "APPROVED", "lead@example.com")
	assert.Contains(t, buf.String(), "approval request resolved")
	assert.Contains(t, buf.String(), "apr-123")

	buf.Reset()

	logger.LogEvaluatorError(ctx, "cel", assert.AnError)
	assert.Contains(t, buf.String(), "policy evaluator failed")
	assert.Contains(t, buf.String(), "level\":\"error")

	buf.Reset()

	logger.LogStorageError(ctx, "put_override", assert.AnError)
	assert.Contains(t, buf.String(), "storage operation failed")
	assert.Contains(t, buf.String(), "put_override")
}

func TestConfig_Defaults(t *testing.T) {
	oldEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	defer func() {
		if oldEndpoint != "" {
			_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", oldEndpoint)
		}
	}()

	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, "changegate", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTELEndpoint)
}

func TestInitOTEL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTELEndpoint:   "localhost:4317",
		Insecure:       true,
	}

	// The Prometheus exporter needs no server, so init succeeds locally
	shutdown, err := InitOTEL(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)
	assert.NotNil(t, PrometheusRegistry)

	if shutdown != nil {
		_ = shutdown(context.Background())
	}
}

func TestInitMetrics(t *testing.T) {
	provider := metric.NewMeterProvider()
	otel.SetMeterProvider(provider)
	Meter = provider.Meter("test")

	err := initMetrics()
	assert.NoError(t, err)

	assert.NotNil(t, DecisionsTotal)
	assert.NotNil(t, GateChecksTotal)
	assert.NotNil(t, OverridesIssued)
	assert.NotNil(t, ApprovalsResolved)
	assert.NotNil(t, AuditAppends)
	assert.NotNil(t, DecisionDuration)
	assert.NotNil(t, ApprovalLatency)
	assert.NotNil(t, ActiveOverrides)
	assert.NotNil(t, PendingApprovals)
}

func TestMetricRecording(t *testing.T) {
	metricProvider := metric.NewMeterProvider()
	otel.SetMeterProvider(metricProvider)
	Meter = metricProvider.Meter("test")

	err := initMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	RecordDecision(ctx, "AUTO_APPLY", "LOW", "PASS")
	RecordDecisionDuration(ctx, "AUTO_APPLY", 25*time.Millisecond)
	RecordGateCheck(ctx, "BLOCKED", "delete")
	RecordOverrideIssued(ctx, "oncall@example.com")
	RecordApprovalResolved(ctx, "APPROVED", 3*time.Minute)
	RecordAuditAppend(ctx, "gate_check")
	RecordActiveOverrides(ctx, 2)
	RecordPendingApprovals(ctx, 5)
}

func TestSpanEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")
	_, span := tracer.Start(context.Background(), "test-span")

	RecordDecisionEvent(span, "orders-table", "lambdaMemory", "prod", "update", "MEDIUM", "PASS", "APPLY_WITH_NOTIFY")
	RecordGateEvent(span, "orders-table", "delete", "BLOCKED", "gate_enabled")
	RecordOverrideEvent(span, "orders-table", "oncall@example.com", "emergency restore",
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 3)
	assert.Equal(t, "change.escalation.decided", spans[0].Events[0].Name)
	assert.Equal(t, "change.gate.checked", spans[0].Events[1].Name)
	assert.Equal(t, "change.override.applied", spans[0].Events[2].Name)
}
