package vitals

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Thejuampi/vitals-client-go/vitals"

// Span names for one connection attempt per transport.
const (
	SocketConnectSpan = "vitals.socket.connect"
	StreamConnectSpan = "vitals.stream.connect"
)

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(instrumentationName)
}

// startConnectSpan opens the span for one attempt. Patient ids stay out of span
// attributes; only whether the target is patient scoped is recorded.
func startConnectSpan(ctx context.Context, tracer trace.Tracer, name string, transport TransportKind, target Target, connectionID string, attempt int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("vitals.transport", string(transport)),
		attribute.String("vitals.practice_id", string(target.PracticeID)),
		attribute.Bool("vitals.patient_scoped", target.PatientScoped()),
		attribute.String("vitals.connection_id", connectionID),
		attribute.Int("vitals.attempt", attempt),
	))
}

func endConnectSpan(span trace.Span, err error, detail string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
	} else {
		span.SetStatus(codes.Ok, detail)
	}
	span.End()
}
