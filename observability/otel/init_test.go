package otel

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =skip,tenant=vault ")
	want := map[string]string{"api-key": "abc", "tenant": "vault"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg := FromEnv("vaultgw", "test")
	if cfg.Traces || cfg.Metrics {
		t.Fatalf("expected exporters disabled, got %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.SampleRatio)
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestFromEnvEnablesExporters(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg := FromEnv("vaultgw", "prod")
	if !cfg.Traces || !cfg.Metrics || !cfg.Insecure {
		t.Fatalf("expected exporters enabled, got %+v", cfg)
	}
}

func TestSamplerHonoursRatio(t *testing.T) {
	if got := sampler(0).Description(); !strings.HasPrefix(got, "ParentBased{root:AlwaysOnSampler") {
		t.Fatalf("unexpected default sampler %q", got)
	}
	if got := sampler(0.5).Description(); !strings.Contains(got, "TraceIDRatioBased{0.5}") {
		t.Fatalf("unexpected ratio sampler %q", got)
	}
}

func TestBuildResourceCarriesAttributes(t *testing.T) {
	res, err := buildResource(Config{
		ServiceName: "vaultgw",
		Environment: "test",
		Attributes:  map[string]string{"vault.address": "0xabc", "empty": " "},
	})
	if err != nil {
		t.Fatalf("build resource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["vault.address"] != "0xabc" || got["service.name"] != "vaultgw" {
		t.Fatalf("unexpected attributes %v", got)
	}
	if _, ok := got["empty"]; ok {
		t.Fatalf("blank attribute should be dropped")
	}
}
