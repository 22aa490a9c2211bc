package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	if l := Init("test-service", slog.LevelInfo); l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "zonescan", slog.LevelInfo)
	l.Debug("hidden")
	l.Info("scan done", "zones", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["service"] != "zonescan" || rec["msg"] != "scan done" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "TEXT", "svc", slog.LevelDebug).Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" Error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}
	id := NewRunID()
	if len(id) != 36 {
		t.Errorf("expected uuid, got %q", id)
	}
	ctx = WithRunID(ctx, id)
	if got := RunID(ctx); got != id {
		t.Errorf("got %q, want %q", got, id)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "json", "svc", slog.LevelInfo)

	FromContext(context.Background(), base).Info("plain")
	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("unexpected run_id in %q", buf.String())
	}

	buf.Reset()
	FromContext(WithRunID(context.Background(), "r-1"), base).Info("tagged")
	if !strings.Contains(buf.String(), `"run_id":"r-1"`) {
		t.Errorf("missing run_id in %q", buf.String())
	}
}
