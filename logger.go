package symphra

// Logger is the structured logging interface used by the core. Messages
// are accompanied by key-value pairs, which keeps the interface compatible
// with slog, zap's sugared logger, logrus, and similar libraries:
//
//	logger.Info("Module started", "module", "database", "version", "1.2.3")
//
// Every lifecycle operation the manager performs is logged through this
// interface; the hosting application decides where the records go. The
// default, when no logger is supplied, discards everything.
type Logger interface {
	// Info logs normal lifecycle events: modules loading, starting,
	// stopping.
	Info(msg string, args ...any)

	// Error logs failures that are also surfaced as module.error events.
	Error(msg string, args ...any)

	// Warn logs unusual conditions that do not fail the operation, such
	// as a best-effort sweep skipping a module.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics: resolved orderings, event
	// deliveries, watcher signals.
	Debug(msg string, args ...any)
}

// noopLogger is the default logger when none is configured.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// NewNoopLogger returns a logger that discards all records.
func NewNoopLogger() Logger { return noopLogger{} }
