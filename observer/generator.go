package observer

import (
	"context"
	"time"

	"github.com/recallkit/recall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedGenerator wraps a recall.Generator with OTEL instrumentation.
type ObservedGenerator struct {
	inner recall.Generator
	inst  *Instruments
	model string
}

// WrapGenerator returns an instrumented generator that emits traces,
// metrics, and logs.
func WrapGenerator(inner recall.Generator, model string, inst *Instruments) *ObservedGenerator {
	return &ObservedGenerator{inner: inner, inst: inst, model: model}
}

var _ recall.Generator = (*ObservedGenerator)(nil)

func (o *ObservedGenerator) Name() string { return o.inner.Name() }

func (o *ObservedGenerator) Generate(ctx context.Context, messages []recall.ChatMessage, opts recall.GenerateOptions) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	text, err := o.inner.Generate(ctx, messages, opts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, "generate", status, durationMs, 0)
	return text, err
}

func (o *ObservedGenerator) Stream(ctx context.Context, messages []recall.ChatMessage, opts recall.GenerateOptions, ch chan<- string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	// Wrap the channel to count chunks. The inner provider closes
	// wrappedCh when done; the goroutine forwards fragments and closes
	// the caller's ch. wrappedCh is buffered generously so the inner
	// provider never blocks on send while nobody reads ch yet.
	bufSize := cap(ch)
	if bufSize < 64 {
		bufSize = 64
	}
	wrappedCh := make(chan string, bufSize)
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for frag := range wrappedCh {
			chunks++
			select {
			case ch <- frag:
			case <-ctx.Done():
				// Drain so the inner provider can finish and close.
				for range wrappedCh {
				}
				return
			}
		}
	}()

	text, err := o.inner.Stream(ctx, messages, opts, wrappedCh)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrStreamChunks.Int(chunks))

	o.record(ctx, "stream", status, durationMs, chunks)
	return text, err
}

func (o *ObservedGenerator) record(ctx context.Context, method, status string, durationMs float64, chunks int) {
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	attrs := []otellog.KeyValue{
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	}
	if method == "stream" {
		attrs = append(attrs, otellog.Int("llm.stream_chunks", chunks))
	}
	rec.AddAttributes(attrs...)
	o.inst.Logger.Emit(ctx, rec)
}
