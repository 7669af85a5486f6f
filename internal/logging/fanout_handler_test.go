package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Fatal("expected a single handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsEachLevel(t *testing.T) {
	var console, file bytes.Buffer
	h := newFanoutHandler(
		slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug enabled through the file handler")
	}

	logger := slog.New(h)
	logger.Debug("candidate pruned")
	logger.Warn("stage-2 rate high")

	if strings.Contains(console.String(), "candidate pruned") {
		t.Fatalf("console received debug record: %q", console.String())
	}
	for _, want := range []string{"candidate pruned", "stage-2 rate high"} {
		if !strings.Contains(file.String(), want) {
			t.Fatalf("file output missing %q: %q", want, file.String())
		}
	}
	if !strings.Contains(console.String(), "stage-2 rate high") {
		t.Fatalf("console missing warn record: %q", console.String())
	}
}

func TestFanoutHandlerWithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := newFanoutHandler(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))

	logger := slog.New(h).With(slog.String(FieldComponent, "assign")).WithGroup("batch")
	logger.Info("solved", slog.Int("size", 4))

	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, `"component":"assign"`) || !strings.Contains(out, `"batch":{"size":4}`) {
			t.Fatalf("unexpected output %q", out)
		}
	}
}
