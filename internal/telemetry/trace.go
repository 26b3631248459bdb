// Package telemetry wraps OpenTelemetry tracing and metrics for the Negotiate
// client and the SSO middleware. Nothing here installs an exporter: without a
// host-provided global provider every call is a no-op.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names.
const (
	TracerClient     = "go-negotiate/negotiate"
	TracerMiddleware = "go-negotiate/sso"
)

// Attribute keys.
const (
	AttrTarget      = "negotiate.target"
	AttrPackage     = "negotiate.package"
	AttrRound       = "negotiate.round"
	AttrRounds      = "negotiate.rounds"
	AttrMessageType = "negotiate.message_type"
	AttrMethod      = "negotiate.method"
	AttrTokenLen    = "negotiate.token_len"
	AttrStatus      = "http.status_code"
	AttrCached      = "sso.cached"
	AttrResult      = "sso.result"
)

// StartSpan creates a span named spanName on the given tracer.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerClient, "negotiate.Fetch",
//	    attribute.String(telemetry.AttrTarget, spn),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on the span and marks the span failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
