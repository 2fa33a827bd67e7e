package main

import (
	"context"
	"log"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logExporter writes finished spans to the standard logger
type logExporter struct{}

func (logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := ""
		for _, kv := range s.Attributes() {
			attrs += " " + string(kv.Key) + "=" + kv.Value.Emit()
		}
		log.Printf("span %s trace=%s took %v%s\n", s.Name(), s.SpanContext().TraceID(), s.EndTime().Sub(s.StartTime()), attrs)
	}
	return nil
}

func (logExporter) Shutdown(ctx context.Context) error { return nil }
