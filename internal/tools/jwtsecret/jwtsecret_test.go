package jwtsecret

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("jwtsecret", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 {
		t.Fatalf("expected default bytes 32, got %d", cfg.Bytes)
	}
}

func TestParseConfigOverride(t *testing.T) {
	fs := flag.NewFlagSet("jwtsecret", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-bytes", "64"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 64 {
		t.Fatalf("expected bytes 64, got %d", cfg.Bytes)
	}
}

func TestRunRejectsShortSecrets(t *testing.T) {
	if err := Run(Config{Bytes: 16}, &bytes.Buffer{}, bytes.NewReader(make([]byte, 16))); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestRunWritesHex(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader(bytes.Repeat([]byte{0xab}, 32))
	if err := Run(Config{Bytes: 32}, buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "SAFEHAVEN_JWT_SECRET=" + strings.Repeat("ab", 32)
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestRunNilOutput(t *testing.T) {
	if err := Run(Config{Bytes: 32}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}

func TestRunDefaultReader(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{Bytes: 32}, buf, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := strings.TrimPrefix(strings.TrimSpace(buf.String()), "SAFEHAVEN_JWT_SECRET=")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %q", len(got), got)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read error") }

func TestRunReaderError(t *testing.T) {
	if err := Run(Config{Bytes: 32}, &bytes.Buffer{}, errReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
}
