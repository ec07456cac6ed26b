// Package observability provides OpenTelemetry tracing for gridcast stages
// and the inference path.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer   trace.Tracer
	initOnce sync.Once
)

// GetTracer returns the global tracer. Before Initialize it falls back to the
// global provider, which is a no-op unless something else installed one.
func GetTracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer("gridcast")
	}
	return tracer
}

// Span wraps an otel span and batches attributes until End
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span named operationName
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := GetTracer().Start(ctx, operationName)

	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// RecordError marks the span as failed
func (s *Span) RecordError(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// Elapsed returns the time since the span started
func (s *Span) Elapsed() time.Duration {
	return time.Since(s.startTime)
}

// End flushes the batched attributes and ends the span
func (s *Span) End() {
	s.attributes = append(s.attributes, attribute.Int64("duration_ms", s.Elapsed().Milliseconds()))
	s.span.SetAttributes(s.attributes...)
	s.span.End()
}

// ComponentTracer names spans "<component>.<operation>"
type ComponentTracer struct {
	component string
}

// NewComponentTracer creates a tracer for one component
func NewComponentTracer(component string) *ComponentTracer {
	return &ComponentTracer{component: component}
}

// StartSpan starts a component span
func (ct *ComponentTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, ct.component+"."+operation)
	span.SetAttribute("component", ct.component)
	span.SetAttribute("operation", operation)
	return ctx, span
}

// Trace runs fn inside a span and records its error
func (ct *ComponentTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, operation)
	defer span.End()

	err := fn(ctx)
	span.RecordError(err)
	return err
}
