package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrBuildID   = "build.id"
	AttrBuildFlow = "build.flow"
	AttrInput     = "build.input"
	AttrShared    = "build.shared"
	AttrHerdCount = "build.herd_count"

	AttrStageTag    = "stage.tag"
	AttrStageOutput = "stage.output"
	AttrPipeline    = "stage.pipeline"

	AttrHerdName  = "herd.name"
	AttrHerdIndex = "herd.index"

	AttrToolName     = "tool.name"
	AttrToolArgs     = "tool.args"
	AttrToolExitCode = "tool.exit_code"

	AttrErrorMessage = "error.message"
)

// Span name prefixes.
const (
	SpanBuild       = "build"
	SpanPrefixStage = "stage."
	SpanPrefixHerd  = "herd."
	SpanPrefixTool  = "tool."
	SpanLink        = "link"
	SpanPublish     = "publish"
)

// Event names.
const (
	EventHerdsDiscovered = "herds.discovered"
	EventStaleArchive    = "link.stale_archive_removed"
)

// Start begins a span on tracer, falling back to a no-op tracer when nil.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Noop()
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
