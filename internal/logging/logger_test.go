package logging

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"claimflow/internal/observability"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add(format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add(format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add(format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add(format, args...) }

func (r *recordingLogger) add(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var rec *recordingLogger
	var logger Logger = rec
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "text",
		Output: buf,
	})

	logger := FromObservabilityWithComponent(base, "test")
	logger.Info("hello %s", "world")

	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
	if want := "component=test"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}

func TestWithRunIDStructuredLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{Format: "json", Output: buf})

	logger := WithRunID(FromObservabilityWithComponent(base, "loop"), "run-42")
	logger.Info("iteration %d", 3)

	if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"run-42"`)) {
		t.Fatalf("expected run_id field, got %q", buf.String())
	}
}

func TestFromContextPrefixesPlainLoggers(t *testing.T) {
	rec := &recordingLogger{}
	ctx := observability.ContextWithRunID(context.Background(), "abc")

	FromContext(ctx, rec).Warn("stage %s failed", "extract")

	if len(rec.lines) != 1 || rec.lines[0] != "run=abc stage extract failed" {
		t.Fatalf("unexpected lines: %v", rec.lines)
	}
	if got := FromContext(context.Background(), rec); got != Logger(rec) {
		t.Fatalf("expected logger returned unchanged without run id")
	}
}

func TestFromContextTagsStructuredLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{Format: "json", Output: buf})
	ctx := observability.ContextWithRunID(context.Background(), "run-7")

	FromContext(ctx, FromObservabilityWithComponent(base, "remote")).Warn("ner call failed")

	if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"run-7"`)) {
		t.Fatalf("expected run_id field, got %q", buf.String())
	}
	if bytes.Contains(buf.Bytes(), []byte("run=run-7")) {
		t.Fatalf("structured logger should not prefix the message, got %q", buf.String())
	}
}
