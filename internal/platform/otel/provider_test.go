package otel

import (
	"context"
	"strings"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("SAFEHAVEN_OTEL_ENDPOINT", "")
	t.Setenv("SAFEHAVEN_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("SAFEHAVEN_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("SAFEHAVEN_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv("SAFEHAVEN_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("SAFEHAVEN_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupRejectsInvalidSampleRatio(t *testing.T) {
	t.Setenv("SAFEHAVEN_OTEL_SAMPLE_RATIO", "often")

	shutdown, err := Setup(context.Background(), "test-service")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if shutdown == nil {
		t.Fatal("expected noop shutdown even on error")
	}
}

func TestSettingsSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 0, want: "AlwaysOffSampler"},
		{ratio: 0.25, want: "ParentBased"},
	}
	for _, tt := range tests {
		got := Settings{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Fatalf("ratio %v sampler = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}
