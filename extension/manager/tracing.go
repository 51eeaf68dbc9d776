package manager

import (
	"context"

	"github.com/ncobase/hostkit/extension/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSpan opens a lifecycle span tagged with the extension identity
func (m *Manager) startSpan(ctx context.Context, name string, desc *types.Descriptor) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if desc != nil {
		attrs = append(attrs,
			attribute.String("extension.name", desc.Name),
			attribute.String("extension.version", desc.Version),
		)
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
