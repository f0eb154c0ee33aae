package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		if got := test.level.String(); got != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, got, test.expected)
		}
	}
}

func TestLogLevel_ZapLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LogLevel(999), zapcore.InfoLevel},
	}

	for _, test := range tests {
		if got := test.level.ZapLevel(); got != test.expected {
			t.Errorf("LogLevel(%d).ZapLevel() = %v, expected %v", test.level, got, test.expected)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("expected log message to appear in CLI output")
	}
	if !strings.Contains(output, "test-subsystem") {
		t.Error("expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered out at INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("info message should appear at INFO level")
	}
}

func TestErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Error("test", errors.New("boom"), "operation failed")

	output := buf.String()
	if !strings.Contains(output, "boom") {
		t.Error("expected wrapped error text to appear in output")
	}
}

func TestTruncateSessionID(t *testing.T) {
	if got := TruncateSessionID("short"); got != "short" {
		t.Errorf("expected short id unchanged, got %s", got)
	}
	if got := TruncateSessionID("abcdefghijklmnop"); got != "abcdefgh..." {
		t.Errorf("expected truncated id, got %s", got)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{
		Action:  "cert_mint",
		Outcome: "success",
		Target:  "api.openai.com",
	})

	output := buf.String()
	if !strings.Contains(output, "[AUDIT]") {
		t.Error("expected audit marker in output")
	}
	if !strings.Contains(output, "action=cert_mint") {
		t.Error("expected action field in audit output")
	}
}
