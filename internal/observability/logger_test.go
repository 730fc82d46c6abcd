package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"fatal": zerolog.FatalLevel,
		"panic": zerolog.PanicLevel,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestSessionLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	loggerMu.Lock()
	initLogger(&buf, "info", false)
	loggerMu.Unlock()

	logger := SessionLogger("sess-1", "corr-1")
	logger.Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("Expected session_id 'sess-1', got %v", entry["session_id"])
	}
	if entry["correlation_id"] != "corr-1" {
		t.Errorf("Expected correlation_id 'corr-1', got %v", entry["correlation_id"])
	}
}

func TestNewCorrelationID_Unique(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if a == "" || a == b {
		t.Errorf("Expected distinct non-empty IDs, got %q and %q", a, b)
	}
}
