package telemetry

import (
	"context"
	"time"

	"github.com/dgallion1/parentdoc/internal/embedding"
	"github.com/dgallion1/parentdoc/internal/llm"
	"github.com/dgallion1/parentdoc/internal/vectorindex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// finish ends span and records one call on the counter and histogram.
func finish(ctx context.Context, span trace.Span, start time.Time, err error,
	counter metric.Int64Counter, hist metric.Float64Histogram, attrs ...attribute.KeyValue) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	counter.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
	hist.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
}

type observedEmbedder struct {
	inner embedding.Embedder
	inst  *Instruments
}

// WrapEmbedder instruments every Embed call.
func WrapEmbedder(inner embedding.Embedder, inst *Instruments) embedding.Embedder {
	return &observedEmbedder{inner: inner, inst: inst}
}

func (o *observedEmbedder) Dimensions() int { return o.inner.Dimensions() }
func (o *observedEmbedder) Model() string   { return o.inner.Model() }

func (o *observedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := attribute.String("embed.model", o.inner.Model())
	ctx, span := o.inst.Tracer.Start(ctx, "embed", trace.WithAttributes(
		model, attribute.Int("embed.text_count", len(texts)),
	))
	start := time.Now()
	vecs, err := o.inner.Embed(ctx, texts)
	finish(ctx, span, start, err, o.inst.EmbedRequests, o.inst.EmbedDuration, model)
	return vecs, err
}

type observedGenerator struct {
	inner llm.Generator
	inst  *Instruments
	model string
}

// WrapGenerator instruments every Generate call. model labels the metrics.
func WrapGenerator(inner llm.Generator, model string, inst *Instruments) llm.Generator {
	return &observedGenerator{inner: inner, inst: inst, model: model}
}

func (o *observedGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	model := attribute.String("llm.model", o.model)
	ctx, span := o.inst.Tracer.Start(ctx, "generate", trace.WithAttributes(
		model, attribute.Int("llm.prompt_chars", len(system)+len(user)),
	))
	start := time.Now()
	out, err := o.inner.Generate(ctx, system, user)
	finish(ctx, span, start, err, o.inst.GenerateRequests, o.inst.GenerateDuration, model)
	return out, err
}

type observedIndex struct {
	inner   vectorindex.Index
	inst    *Instruments
	backend attribute.KeyValue
}

// WrapIndex instruments every index call. backend labels the metrics.
func WrapIndex(inner vectorindex.Index, backend string, inst *Instruments) vectorindex.Index {
	return &observedIndex{inner: inner, inst: inst, backend: attribute.String("index.backend", backend)}
}

func (o *observedIndex) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := o.inst.Tracer.Start(ctx, "index."+op, trace.WithAttributes(append(attrs, o.backend)...))
	return ctx, span, time.Now()
}

func (o *observedIndex) done(ctx context.Context, span trace.Span, start time.Time, op string, err error) {
	finish(ctx, span, start, err, o.inst.IndexOps, o.inst.IndexDuration, o.backend, attribute.String("index.op", op))
}

func (o *observedIndex) Insert(ctx context.Context, records []vectorindex.Record) error {
	ctx, span, start := o.start(ctx, "insert", attribute.Int("index.records", len(records)))
	err := o.inner.Insert(ctx, records)
	o.done(ctx, span, start, "insert", err)
	return err
}

func (o *observedIndex) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Match, error) {
	ctx, span, start := o.start(ctx, "query", attribute.Int("index.k", k))
	matches, err := o.inner.Query(ctx, vector, k)
	o.done(ctx, span, start, "query", err)
	return matches, err
}

func (o *observedIndex) Count(ctx context.Context) (int, error) {
	ctx, span, start := o.start(ctx, "count")
	n, err := o.inner.Count(ctx)
	o.done(ctx, span, start, "count", err)
	return n, err
}

func (o *observedIndex) DeleteDocument(ctx context.Context, docID string) (int, error) {
	ctx, span, start := o.start(ctx, "delete", attribute.String("doc_id", docID))
	n, err := o.inner.DeleteDocument(ctx, docID)
	o.done(ctx, span, start, "delete", err)
	return n, err
}

func (o *observedIndex) Close() error { return o.inner.Close() }
