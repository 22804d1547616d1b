package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "obsmesh.orchestrator"

	traceSpanAction = "obsmesh.action"

	traceAttrSessionID = "obsmesh.session_id"
	traceAttrActionID  = "obsmesh.action_id"
	traceAttrKind      = "obsmesh.kind"
	traceAttrStatus    = "obsmesh.status"
	traceAttrReason    = "obsmesh.failure_reason"
)

func defaultTracer() trace.Tracer {
	return otel.Tracer(traceScope)
}

func (l *Loop) startSpan(ctx context.Context, actionID, kind string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, traceSpanAction, trace.WithAttributes(
		attribute.String(traceAttrSessionID, l.sessionID),
		attribute.String(traceAttrActionID, actionID),
		attribute.String(traceAttrKind, kind),
	))
}

// endSpan marks the span with the outcome. A failure observation is a
// successful action that observed a failure, so only taxonomy errors set an
// error status.
func endSpan(span trace.Span, out Outcome) {
	defer span.End()
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, statusInvalid))
		return
	}
	if f := out.Observation.Failure(); f != nil {
		span.SetAttributes(
			attribute.String(traceAttrStatus, statusFailed),
			attribute.String(traceAttrReason, string(f.Reason)),
		)
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String(traceAttrStatus, statusOK))
	span.SetStatus(codes.Ok, "")
}
