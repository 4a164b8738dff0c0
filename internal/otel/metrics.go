package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sisqo"

// Metrics holds the instruments. Every Record method is safe on a nil
// receiver so callers never need to check whether telemetry is enabled.
type Metrics struct {
	// Session traffic, partitioned by device
	CommandsSent  metric.Int64Counter
	BytesReceived metric.Int64Counter
	PagesFollowed metric.Int64Counter
	ReadTimeouts  metric.Int64Counter
	AuthFailures  metric.Int64Counter

	// LLM prompt classification tokens, partitioned by provider + model
	InputTokens         metric.Int64Counter
	OutputTokens        metric.Int64Counter
	CacheReadTokens     metric.Int64Counter
	CacheCreationTokens metric.Int64Counter

	// Fleet output cache
	OutputCacheHits   metric.Int64Counter
	OutputCacheMisses metric.Int64Counter

	// Prompt classifications, partitioned by source (registry, llm, none)
	Classifications metric.Int64Counter
}

// NewMetrics creates the instruments against the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.CommandsSent, "session.commands", "Commands written to devices", ""},
		{&m.BytesReceived, "session.bytes_received", "Bytes received from devices", "By"},
		{&m.PagesFollowed, "session.pages", "Pagination prompts answered during reads", ""},
		{&m.ReadTimeouts, "session.read_timeouts", "Reads that hit their deadline before a prompt", ""},
		{&m.AuthFailures, "session.auth_failures", "Failed authentication or enable attempts", ""},
		{&m.InputTokens, "llm.tokens.input", "Total LLM input tokens consumed", "{token}"},
		{&m.OutputTokens, "llm.tokens.output", "Total LLM output tokens consumed", "{token}"},
		{&m.CacheReadTokens, "llm.tokens.cache_read", "Input tokens served from provider prompt cache", "{token}"},
		{&m.CacheCreationTokens, "llm.tokens.cache_creation", "Input tokens used to create provider prompt cache entries", "{token}"},
		{&m.OutputCacheHits, "output_cache.hits", "Fleet results whose output matched the previous run", ""},
		{&m.OutputCacheMisses, "output_cache.misses", "Fleet results whose output changed, expired or was new", ""},
		{&m.Classifications, "prompt.classifications", "Login prompt classifications partitioned by source", ""},
	}
	for _, c := range counters {
		opts := []metric.Int64CounterOption{metric.WithDescription(c.desc)}
		if c.unit != "" {
			opts = append(opts, metric.WithUnit(c.unit))
		}
		counter, err := meter.Int64Counter(c.name, opts...)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func deviceAttr(device string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("device", device))
}

// RecordCommand records one command sent to device.
func (m *Metrics) RecordCommand(ctx context.Context, device string) {
	if m == nil {
		return
	}
	m.CommandsSent.Add(ctx, 1, deviceAttr(device))
}

// RecordBytes records n bytes received from device.
func (m *Metrics) RecordBytes(ctx context.Context, device string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesReceived.Add(ctx, int64(n), deviceAttr(device))
}

// RecordPage records one answered pagination prompt.
func (m *Metrics) RecordPage(ctx context.Context, device string) {
	if m == nil {
		return
	}
	m.PagesFollowed.Add(ctx, 1, deviceAttr(device))
}

// RecordReadTimeout records a read that ended at its deadline.
func (m *Metrics) RecordReadTimeout(ctx context.Context, device string) {
	if m == nil {
		return
	}
	m.ReadTimeouts.Add(ctx, 1, deviceAttr(device))
}

// RecordAuthFailure records a rejected login or enable.
func (m *Metrics) RecordAuthFailure(ctx context.Context, device string) {
	if m == nil {
		return
	}
	m.AuthFailures.Add(ctx, 1, deviceAttr(device))
}

// RecordTokens records LLM token usage.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output, cacheRead, cacheCreation int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
	if cacheRead > 0 {
		m.CacheReadTokens.Add(ctx, cacheRead, attrs)
	}
	if cacheCreation > 0 {
		m.CacheCreationTokens.Add(ctx, cacheCreation, attrs)
	}
}

// RecordCacheHit records a fleet output cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.OutputCacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a fleet output cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.OutputCacheMisses.Add(ctx, 1)
}

// RecordClassification records a prompt classification with its source.
func (m *Metrics) RecordClassification(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.Classifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("classification.source", source),
	))
}
