package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "Authorization=Basic abc", map[string]string{"Authorization": "Basic abc"}},
		{"multiple with spaces", " a = 1 , b=2 ", map[string]string{"a": "1", "b": "2"}},
		{"value with equals", "k=v=w", map[string]string{"k": "v=w"}},
		{"missing key", "=x,ok=1", map[string]string{"ok": "1"}},
		{"no equals", "junk,ok=1", map[string]string{"ok": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: got %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	tel, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	if tel.Tracer == nil || tel.Metrics == nil {
		t.Fatal("expected tracer and metrics")
	}
	tel.Metrics.RecordCommand(context.Background(), "core1")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordCommand(ctx, "d")
	m.RecordBytes(ctx, "d", 10)
	m.RecordPage(ctx, "d")
	m.RecordReadTimeout(ctx, "d")
	m.RecordAuthFailure(ctx, "d")
	m.RecordTokens(ctx, "anthropic", "m", 1, 2, 3, 4)
	m.RecordCacheHit(ctx)
	m.RecordCacheMiss(ctx)
	m.RecordClassification(ctx, "registry")
}

func TestParseCollector(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		basePath string
		insecure bool
		wantErr  bool
	}{
		{endpoint: "http://localhost:4318", host: "localhost:4318", insecure: true},
		{endpoint: "https://otel.example.net/collector/", host: "otel.example.net", basePath: "/collector"},
		{endpoint: "localhost:4318", wantErr: true},
		{endpoint: "http://%zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := parseCollector(tt.endpoint, "a=1")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got %+v, want an error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCollector: %v", err)
			}
			if got.host != tt.host || got.basePath != tt.basePath || got.insecure != tt.insecure {
				t.Errorf("got %+v, want host %q path %q insecure %v", got, tt.host, tt.basePath, tt.insecure)
			}
			if got.headers["a"] != "1" {
				t.Errorf("headers: got %v", got.headers)
			}
		})
	}
}

func TestConfigAttributes(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	attrs := func(c Config) map[attribute.Key]attribute.Value {
		m := make(map[attribute.Key]attribute.Value)
		for _, kv := range c.attributes() {
			m[kv.Key] = kv.Value
		}
		return m
	}

	got := attrs(Config{Command: "run", Transport: "ssh", Devices: 12})
	if v := got["service.name"].AsString(); v != "sisqo" {
		t.Errorf("service.name: got %q, want %q", v, "sisqo")
	}
	if v := got["sisqo.command"].AsString(); v != "run" {
		t.Errorf("sisqo.command: got %q, want %q", v, "run")
	}
	if v := got["sisqo.transport"].AsString(); v != "ssh" {
		t.Errorf("sisqo.transport: got %q, want %q", v, "ssh")
	}
	if v := got["sisqo.devices"].AsInt64(); v != 12 {
		t.Errorf("sisqo.devices: got %d, want 12", v)
	}

	got = attrs(Config{})
	if _, ok := got["sisqo.command"]; ok {
		t.Error("empty command should be left out")
	}

	t.Setenv("OTEL_SERVICE_NAME", "netops")
	if v := attrs(Config{})["service.name"].AsString(); v != "netops" {
		t.Errorf("service.name from env: got %q, want %q", v, "netops")
	}
	if v := attrs(Config{ServiceName: "lab"})["service.name"].AsString(); v != "lab" {
		t.Errorf("explicit service.name: got %q, want %q", v, "lab")
	}
}
