package metrics

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupTelemetry wires the process-wide OTel providers: a meter provider
// whose Prometheus exporter feeds the same registry promhttp.Handler
// serves in server.go, and a tracer provider spans in internal/api and
// pkg/store/auditstore report into. The trace exporter writes to
// io.Discard rather than stdout — spans still flow through the SDK's
// batching and sampling, they're just not printed, since this service has
// no collector endpoint configured by default.
func SetupTelemetry(serviceName string) (shutdown func(context.Context) error, err error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	metricExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}, nil
}
