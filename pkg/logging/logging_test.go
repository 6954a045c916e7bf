package logging

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestLoggerIsShared(t *testing.T) {
	if Logger() == nil {
		t.Fatal("Logger returned nil")
	}
	if Logger() != Logger() {
		t.Fatal("Logger must return the same instance")
	}
}

func TestSetLoggerOverride(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	WithComponent("retrieval").Warn("secondary vector search failed")

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("component=retrieval")) {
		t.Fatalf("component field missing: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("secondary vector search failed")) {
		t.Fatalf("message missing: %q", out)
	}
}
