// Package otel wires OpenTelemetry tracing and metrics for sisqo.
//
// Traces and metrics are exported over OTLP/HTTP when an endpoint is set
// (config file, SISQO_OTEL_ENDPOINT or OTEL_EXPORTER_OTLP_ENDPOINT).
// Without one every instrument is a no-op.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName    = "sisqo"
	defaultExportInterval = 15 * time.Second
)

// Version is set by the caller from cmd.Version.
var Version = "dev"

// Config holds the exporter settings and what the process is doing, so
// runs of different commands and transports can be told apart.
type Config struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:4318"
	Headers  string // "key=value,key2=value2", same format as OTEL_EXPORTER_OTLP_HEADERS

	// ServiceName defaults to OTEL_SERVICE_NAME, then "sisqo".
	ServiceName string
	Command     string // CLI subcommand, e.g. "run"
	Transport   string // default transport kind
	Devices     int    // inventory size

	// ExportInterval defaults to 15s.
	ExportInterval time.Duration
}

// Telemetry holds the providers and instruments.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Tracer  trace.Tracer
	Metrics *Metrics
}

func (c Config) serviceName() string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		return v
	}
	return defaultServiceName
}

// attributes describes the sisqo invocation. Empty fields are left out.
func (c Config) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.serviceName()),
		semconv.ServiceVersion(Version),
	}
	if c.Command != "" {
		attrs = append(attrs, attribute.String("sisqo.command", c.Command))
	}
	if c.Transport != "" {
		attrs = append(attrs, attribute.String("sisqo.transport", c.Transport))
	}
	if c.Devices > 0 {
		attrs = append(attrs, attribute.Int("sisqo.devices", c.Devices))
	}
	return attrs
}

// parseHeaders reads "k=v,k2=v2". Pairs without a key are skipped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}

// collector is a parsed OTLP/HTTP endpoint.
type collector struct {
	host     string
	basePath string
	insecure bool
	headers  map[string]string
}

func parseCollector(endpoint, headers string) (collector, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return collector{}, fmt.Errorf("invalid endpoint URL %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return collector{}, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return collector{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  parseHeaders(headers),
	}, nil
}

// The /v1/<signal> suffix is kept after any base path, e.g. a collector
// behind a reverse proxy.
func (c collector) traceOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(c.host),
		otlptracehttp.WithURLPath(c.basePath + "/v1/traces"),
	}
	if c.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(c.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.headers))
	}
	return opts
}

func (c collector) metricOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(c.host),
		otlpmetrichttp.WithURLPath(c.basePath + "/v1/metrics"),
	}
	if c.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(c.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(c.headers))
	}
	return opts
}

// Init sets up OTLP exporters. With an empty endpoint it returns a
// Telemetry whose tracer and instruments do nothing.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg.Endpoint != "" {
		col, err := parseCollector(cfg.Endpoint, cfg.Headers)
		if err != nil {
			return nil, fmt.Errorf("otel: %w", err)
		}
		// OTEL_RESOURCE_ATTRIBUTES is merged in; explicit attributes win.
		res, err := resource.New(ctx,
			resource.WithFromEnv(),
			resource.WithHost(),
			resource.WithAttributes(cfg.attributes()...),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}

		traceExp, err := otlptracehttp.New(ctx, col.traceOptions()...)
		if err != nil {
			return nil, fmt.Errorf("otel trace exporter: %w", err)
		}
		metricExp, err := otlpmetrichttp.New(ctx, col.metricOptions()...)
		if err != nil {
			return nil, fmt.Errorf("otel metric exporter: %w", err)
		}

		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)
		t.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	t.Tracer = otel.Tracer(defaultServiceName)
	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics
	return t, nil
}

// Shutdown flushes pending spans and metrics and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
