package toolindex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/core/runtime/telemetry"
)

// operationType identifies the type of tool-index operation for observability.
type operationType string

const (
	opBuild       operationType = "build"
	opAdd         operationType = "add"
	opMergeUpsert operationType = "merge_upsert"
	opCreateIndex operationType = "create_index"
	opSearch      operationType = "search"
	opSearchTools operationType = "search_tools"
	opAgentic     operationType = "agentic_search"
	opLoadReg     operationType = "load_registry"
)

// operationOutcome represents the result of a tool-index operation.
type operationOutcome string

const (
	outcomeSuccess operationOutcome = "success"
	outcomeError   operationOutcome = "error"
)

// operationEvent is a structured log/metric event for tool-index operations.
type operationEvent struct {
	Operation   operationType
	Table       string
	Query       string
	Duration    time.Duration
	Outcome     operationOutcome
	Error       string
	ResultCount int
}

// observability provides structured logging, metrics, and tracing for
// tool-index operations, mirroring the registry-client observability shape
// this lineage already uses.
type observability struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

func newObservability(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *observability {
	o := &observability{logger: logger, metrics: metrics, tracer: tracer}
	if o.logger == nil {
		o.logger = telemetry.NewNoopLogger()
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewNoopMetrics()
	}
	if o.tracer == nil {
		o.tracer = telemetry.NewNoopTracer()
	}
	return o
}

func (o *observability) logOperation(ctx context.Context, e operationEvent) {
	keyvals := []any{
		"operation", string(e.Operation),
		"outcome", string(e.Outcome),
		"duration_ms", e.Duration.Milliseconds(),
	}
	if e.Table != "" {
		keyvals = append(keyvals, "table", e.Table)
	}
	if e.Query != "" {
		keyvals = append(keyvals, "query", e.Query)
	}
	if e.ResultCount > 0 {
		keyvals = append(keyvals, "result_count", e.ResultCount)
	}
	if e.Error != "" {
		keyvals = append(keyvals, "error", e.Error)
	}

	msg := "tool index operation completed"
	if e.Outcome == outcomeError {
		o.logger.Error(ctx, msg, keyvals...)
		return
	}
	o.logger.Info(ctx, msg, keyvals...)
}

func (o *observability) recordMetrics(e operationEvent) {
	tags := []string{"operation", string(e.Operation), "outcome", string(e.Outcome)}
	o.metrics.RecordTimer("toolindex.operation.duration", e.Duration, tags...)
	switch e.Outcome {
	case outcomeSuccess:
		o.metrics.IncCounter("toolindex.operation.success", 1, tags...)
	case outcomeError:
		o.metrics.IncCounter("toolindex.operation.error", 1, tags...)
	}
	if e.ResultCount > 0 {
		o.metrics.RecordGauge("toolindex.operation.result_count", float64(e.ResultCount), tags...)
	}
}

func (o *observability) startSpan(ctx context.Context, op operationType, attrs ...attribute.KeyValue) (context.Context, telemetry.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...)}
	return o.tracer.Start(ctx, "toolindex."+string(op), opts...)
}

func (o *observability) endSpan(span telemetry.Span, outcome operationOutcome, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(outcome))
	}
	span.End()
}
