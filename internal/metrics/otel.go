// Package metrics exposes OpenTelemetry instruments through a Prometheus
// /metrics handler.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/kalambet/opsai"

// InitMeterProvider installs the global MeterProvider backed by a Prometheus
// exporter and returns the handler that serves it.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "opsai"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

// Meter returns the process meter.
func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

var (
	AttrModel   = attribute.Key("model")
	AttrOutcome = attribute.Key("outcome")
	AttrTool    = attribute.Key("tool")
	AttrRoute   = attribute.Key("route")
	AttrExpert  = attribute.Key("expert")
	AttrRule    = attribute.Key("rule")
)
