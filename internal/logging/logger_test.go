package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newBufferedLogger(service string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(service)
	l.SetOutput(&buf)
	l.SetLevel(LevelDebug)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_ReadsLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	l := New("harbor-scheduler")
	if l.level != LevelWarn {
		t.Errorf("New() level = %q, want %q", l.level, LevelWarn)
	}
	if l.service != "harbor-scheduler" {
		t.Errorf("New() service = %q, want %q", l.service, "harbor-scheduler")
	}
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test-service")
			ctx := context.Background()
			if tt.hasTrace {
				newCtx, s := otel.Tracer("test-tracer").Start(ctx, "test-span")
				ctx = newCtx
				defer s.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			if entry.Service != "test-service" {
				t.Errorf("WithContext() Service = %q, want %q", entry.Service, "test-service")
			}
			if entry.Time.Before(before) || entry.Time.After(after) {
				t.Errorf("WithContext() Time %v not between %v and %v", entry.Time, before, after)
			}
			if tt.hasTrace && entry.TraceID == "" {
				t.Error("WithContext() TraceID should not be empty with trace context")
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("WithContext() TraceID = %q, want empty", entry.TraceID)
			}
		})
	}
}

func TestLogEntry_FluentMethods(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(*LogEntry) *LogEntry
		checkFn func(*testing.T, *LogEntry)
	}{
		{
			name:    "WithTraceID",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithTraceID("trace-123") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.TraceID != "trace-123" {
					t.Errorf("TraceID = %q, want %q", e.TraceID, "trace-123")
				}
			},
		},
		{
			name:    "WithSpace",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithSpace("space-1") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.SpaceID != "space-1" {
					t.Errorf("SpaceID = %q, want %q", e.SpaceID, "space-1")
				}
			},
		},
		{
			name:    "WithEntry",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithEntry("entry-9") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.EntryID != "entry-9" {
					t.Errorf("EntryID = %q, want %q", e.EntryID, "entry-9")
				}
			},
		},
		{
			name:    "WithLane",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithLane("publish") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.Lane != "publish" {
					t.Errorf("Lane = %q, want %q", e.Lane, "publish")
				}
			},
		},
		{
			name:    "WithJob",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithJob("job-abc") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.JobID != "job-abc" {
					t.Errorf("JobID = %q, want %q", e.JobID, "job-abc")
				}
			},
		},
		{
			name: "chained methods",
			setupFn: func(e *LogEntry) *LogEntry {
				return e.WithSpace("s").WithEntry("e").WithLane("unpublish").WithField("k", 1)
			},
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.SpaceID != "s" || e.EntryID != "e" || e.Lane != "unpublish" {
					t.Errorf("chained entry = %+v", e)
				}
				if e.Fields["k"] != 1 {
					t.Errorf("Fields[k] = %v, want 1", e.Fields["k"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("test-service").Plain()
			if got := tt.setupFn(entry); got != entry {
				t.Error("fluent method should return the same LogEntry")
			}
			tt.checkFn(t, entry)
		})
	}
}

func TestLogEntry_WithError(t *testing.T) {
	e := New("svc").Plain().WithError(errors.New("boom"))
	if e.Fields["error"] != "boom" {
		t.Errorf("Fields[error] = %v, want boom", e.Fields["error"])
	}
	e = New("svc").Plain().WithError(nil)
	if _, ok := e.Fields["error"]; ok {
		t.Error("WithError(nil) should not add an error field")
	}
}

func TestLogEntry_Output(t *testing.T) {
	tests := []struct {
		name      string
		logFn     func(*LogEntry)
		wantLevel LogLevel
		wantMsg   string
	}{
		{"Debug", func(e *LogEntry) { e.Debug("debug message") }, LevelDebug, "debug message"},
		{"Debugf", func(e *LogEntry) { e.Debugf("debug %s %d", "formatted", 123) }, LevelDebug, "debug formatted 123"},
		{"Info", func(e *LogEntry) { e.Info("info message") }, LevelInfo, "info message"},
		{"Infof", func(e *LogEntry) { e.Infof("info %s", "formatted") }, LevelInfo, "info formatted"},
		{"Warn", func(e *LogEntry) { e.Warn("warn message") }, LevelWarn, "warn message"},
		{"Warnf", func(e *LogEntry) { e.Warnf("warn %d", 456) }, LevelWarn, "warn 456"},
		{"Error", func(e *LogEntry) { e.Error("error message") }, LevelError, "error message"},
		{"Errorf", func(e *LogEntry) { e.Errorf("error %v", true) }, LevelError, "error true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferedLogger("test-service")
			tt.logFn(logger.Plain().WithSpace("space-1").WithLane("publish"))

			lines := decodeLines(t, buf)
			if len(lines) != 1 {
				t.Fatalf("got %d lines, want 1", len(lines))
			}
			got := lines[0]
			if got.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", got.Level, tt.wantLevel)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMsg)
			}
			if got.Service != "test-service" || got.SpaceID != "space-1" || got.Lane != "publish" {
				t.Errorf("decoded entry = %+v", got)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferedLogger("svc")
	logger.SetLevel(LevelWarn)

	logger.Plain().Debug("dropped")
	logger.Plain().Info("dropped")
	logger.Plain().Warn("kept")
	logger.Plain().Error("kept too")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	if lines[0].Level != LevelWarn || lines[1].Level != LevelError {
		t.Errorf("levels = %q, %q", lines[0].Level, lines[1].Level)
	}
}

func TestLogEntry_EmptyFieldsOmitted(t *testing.T) {
	logger, buf := newBufferedLogger("svc")
	logger.Plain().Info("no fields")
	if strings.Contains(buf.String(), `"fields"`) {
		t.Errorf("empty fields should be omitted: %s", buf.String())
	}
}

func TestGlobalFunctions(t *testing.T) {
	SetDefaultService("harbor-scheduler-test")
	defer SetDefaultService("harbor-scheduler")

	if got := Plain().Service; got != "harbor-scheduler-test" {
		t.Errorf("Plain() Service = %q", got)
	}
	if got := WithContext(context.Background()).Service; got != "harbor-scheduler-test" {
		t.Errorf("WithContext() Service = %q", got)
	}
	e := WithFields(map[string]any{"key": "value"})
	if e.Fields["key"] != "value" {
		t.Errorf("WithFields() Fields[key] = %v", e.Fields["key"])
	}
}
