// Package logging provides the subsystem-tagged structured logger used
// throughout the proxy, backed by zap.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ZapLevel converts LogLevel to its zapcore.Level equivalent.
func (l LogLevel) ZapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// InitForCLI initializes the process-wide logger for command-line operation.
// It must be called once at startup before any Debug/Info/Warn/Error/Audit call.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "ts"

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(output),
		filterLevel.ZapLevel(),
	)

	mu.Lock()
	logger = zap.New(core)
	mu.Unlock()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func format(messageFmt string, args ...interface{}) string {
	if len(args) == 0 {
		return messageFmt
	}
	return fmt.Sprintf(messageFmt, args...)
}

// Debug logs a debug message tagged with the originating subsystem.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	current().Debug(format(messageFmt, args...), zap.String("subsystem", subsystem))
}

// Info logs an informational message tagged with the originating subsystem.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	current().Info(format(messageFmt, args...), zap.String("subsystem", subsystem))
}

// Warn logs a warning message tagged with the originating subsystem.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	current().Warn(format(messageFmt, args...), zap.String("subsystem", subsystem))
}

// Error logs an error message tagged with the originating subsystem and the
// causing error.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	fields := []zap.Field{zap.String("subsystem", subsystem)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	current().Error(format(messageFmt, args...), fields...)
}

// TruncateSessionID returns a truncated identifier safe for logging, so full
// session or connection identifiers never appear in plaintext logs.
// Format: first 8 chars + "..." (e.g. "abc12345...").
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "..."
}

// AuditEvent represents a structured audit log entry for security-sensitive
// operations: certificate minting, feedback submission, capture redaction.
type AuditEvent struct {
	// Action is the type of action being audited (e.g. "cert_mint", "feedback_submit").
	Action string
	// Outcome indicates whether the action succeeded or failed.
	Outcome string // "success" or "failure"
	// SessionID is the truncated session/connection identifier.
	SessionID string
	// Target is the target of the action (e.g. backend name, host).
	Target string
	// Details provides additional context-specific information.
	Details string
	// Error contains the error message if Outcome is "failure".
	Error string
	// Timestamp records when the event occurred.
	Timestamp time.Time
}

// Audit logs a structured audit event. Audit events are always logged at
// INFO level with a dedicated "AUDIT" subsystem so they can be filtered out
// of ordinary operational logs by downstream aggregation.
func Audit(event AuditEvent) {
	parts := make([]string, 0, 6)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.SessionID != "" {
		parts = append(parts, "session="+event.SessionID)
	}
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}

	Info("AUDIT", "[AUDIT] %s", strings.Join(parts, " "))
}
