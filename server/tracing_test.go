package server

import (
	"context"
	"testing"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

func TestTracingSpanPerJob(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer("pixelbuffer-test")

	proc := WithTracing(ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		if addr.ImageID == 404 {
			return Failed(pixbuf.NewError(pixbuf.KindNotFound, "no image %d", addr.ImageID))
		}
		return Result{Body: make([]byte, 32)}
	}), tracer)

	d := NewDispatcher(proc, 1, 2)
	defer d.Close()

	ctx, parent := tracer.Start(context.Background(), "request")
	for _, id := range []int64{1, 404} {
		ticket, err := d.Submit(ctx, "req-trace", testAddress(id), pixbuf.Credential{UserID: 2}, nil)
		if err != nil {
			t.Fatalf("submit: %v\n", err)
		}
		waitResult(t, ticket)
	}
	parent.End()

	var tiles []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "tile" {
			tiles = append(tiles, span)
		}
	}
	if len(tiles) != 2 {
		t.Fatalf("expected 2 tile spans, got %d\n", len(tiles))
	}
	for _, span := range tiles {
		if span.Parent().SpanID() != parent.SpanContext().SpanID() {
			t.Errorf("tile span not parented to the request span\n")
		}
		if span.SpanContext().TraceID() != parent.SpanContext().TraceID() {
			t.Errorf("tile span left the request trace\n")
		}
	}

	ok, failed := tiles[0], tiles[1]
	if ok.Status().Code == codes.Error {
		ok, failed = failed, ok
	}
	if failed.Status().Code != codes.Error || failed.Status().Description != "NotFound" {
		t.Errorf("bad status on failed job span: %+v\n", failed.Status())
	}
	if !hasAttribute(ok.Attributes(), attribute.Int("tile.bytes", 32)) {
		t.Errorf("missing tile.bytes on successful job span: %v\n", ok.Attributes())
	}
	if !hasAttribute(failed.Attributes(), attribute.Int64("image.id", 404)) {
		t.Errorf("missing image.id on failed job span: %v\n", failed.Attributes())
	}
}

func hasAttribute(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key == want.Key && kv.Value.Emit() == want.Value.Emit() {
			return true
		}
	}
	return false
}
