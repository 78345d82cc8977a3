package server

import (
	"context"
	"fmt"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/glencoesoftware/omero-ms-pixel-buffer/server"

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// NewTracerProvider exports spans over OTLP/gRPC and registers the provider and the
// W3C trace context propagator globally.
func NewTracerProvider(ctx context.Context, c tracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", c.ServiceName),
			attribute.String("service.version", pixbuf.ServiceVersion()),
		))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(c.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish a connection with the otlp exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp)),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// WithTracing wraps every job run by next in a span.
func WithTracing(next Processor, tracer trace.Tracer) Processor {
	return ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		ctx, span := tracer.Start(ctx, "tile", trace.WithAttributes(
			attribute.Int64("image.id", addr.ImageID),
			attribute.Int("image.z", addr.Z),
			attribute.Int("image.c", addr.C),
			attribute.Int("image.t", addr.T),
			attribute.Int("image.resolution", addr.Resolution),
			attribute.String("tile.region", addr.Region.String()),
			attribute.String("tile.format", string(addr.Format)),
			attribute.Int64("user.id", cred.UserID),
		))
		defer span.End()

		res := next.Process(ctx, addr, cred)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Kind.String())
		} else {
			span.SetAttributes(attribute.Int("tile.bytes", len(res.Body)))
		}
		return res
	})
}
