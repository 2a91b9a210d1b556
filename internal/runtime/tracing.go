package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/drblury/ipcflow"

const (
	spanSend      = "ipcflow.send"
	spanBroadcast = "ipcflow.broadcast"
)

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		return otel.Tracer(tracerName)
	}
	return tp.Tracer(tracerName)
}

func startSpan(tracer trace.Tracer, name, role, topic string, attrs ...attribute.KeyValue) trace.Span {
	_, span := tracer.Start(context.Background(), name, trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("ipcflow.role", role),
		attribute.String("ipcflow.topic", topic),
	)
	span.SetAttributes(attrs...)
	return span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
