package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeassess/pkg/utils/contextkey"

	"go.uber.org/zap"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNoopBeforeInit(t *testing.T) {
	prev := globalLogger
	globalLogger = nil
	defer func() { globalLogger = prev }()

	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestContextFieldsAreLogged(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPath: path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := contextkey.WithTraceID(context.Background(), "trace-1")
	ctx = contextkey.WithSubmissionID(ctx, "s-1")
	ctx = contextkey.WithStage(ctx, "RUN_TESTS")
	Warn(ctx, "stage degraded", zap.String("cause", "timeout"))
	Debug(context.Background(), "plain")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	want := map[string]string{
		"level":         "warn",
		"msg":           "stage degraded",
		"trace_id":      "trace-1",
		"submission_id": "s-1",
		"stage":         "RUN_TESTS",
		"cause":         "timeout",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Fatalf("%s = %v, want %q (entry=%v)", k, entry[k], v, entry)
		}
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Fatalf("plain entry must not carry context fields: %s", lines[1])
	}
}
