package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command execution.
//
// It starts as a no-op logger so packages can log safely before
// InitCLILogger runs (for example in tests that never configure logging).
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for console output on stdout.
//
// level accepts the standard zap level names (debug, info, warn, error).
// brief drops timestamps and logger names from the output, leaving just
// the level and message. Calling InitCLILogger again replaces the logger;
// it never double-registers sinks.
func InitCLILogger(level string, brief bool) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if brief {
		encCfg.TimeKey = zapcore.OmitKey
		encCfg.NameKey = zapcore.OmitKey
		encCfg.CallerKey = zapcore.OmitKey
	} else {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		lvl,
	)

	CLILogger = zap.New(core)
	return nil
}

// Sync flushes any buffered log entries. Best-effort; stdout sync errors
// are expected on some platforms and are ignored by callers.
func Sync() error {
	return CLILogger.Sync()
}
