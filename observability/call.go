package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/iceflow/errors"
)

// ObserveCall starts a client span and the in-flight metric for one bridge
// call. The returned function ends both and must be called exactly once.
func ObserveCall(ctx context.Context, m *BridgeMetrics, method string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, SpanBridgeCall,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String(AttrMethod, method))...),
	)
	m.RecordCallStart(ctx, method)

	return ctx, func(err error) {
		outcome := Outcome(err)
		span.SetAttributes(attribute.String(AttrOutcome, outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		m.RecordCallEnd(ctx, method, outcome, time.Since(start))
	}
}

// Outcome classifies a call error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.HasCode(err, errors.ErrCodeCallTimeout):
		return OutcomeTimeout
	case errors.HasCode(err, errors.ErrCodeProcessDead):
		return OutcomeDead
	case errors.HasCode(err, errors.ErrCodeInvalidInput):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
