package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf}).WithComponent(ComponentLedger)

	logger.Info("expense added", FieldAccountID, "acct")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != ComponentLedger {
		t.Errorf("component = %v, want %s", entry[FieldComponent], ComponentLedger)
	}
	if entry[FieldAccountID] != "acct" {
		t.Errorf("account_id = %v", entry[FieldAccountID])
	}
}

func TestNewHandlerFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "pretty"} {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, slog.LevelInfo, format)).Info("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("%s handler output %q lacks message", format, buf.String())
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: slog.LevelInfo, Output: &buf}).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at info level: %q", buf.String())
	}
}

func TestLogHTTPEndUsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})
	ctx := WithLogger(context.Background(), logger.With(FieldRequestID, "req-1"))

	r := httptest.NewRequest("GET", "/api/totals", nil)
	LogHTTPEnd(ctx, r, "/api/totals", 404, 3, "10.0.0.1", "acct")

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"request_id":"req-1"`, `"status_code":404`, `"account_id":"acct"`, `"component":"http"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q lacks %s", out, want)
		}
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()).Logger == nil {
		t.Error("expected the default logger")
	}
}
