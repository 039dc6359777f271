package sandbox

import (
	"time"

	"go.uber.org/zap"
)

// consolePrinter routes guest console output to zap and the capture buffer
type consolePrinter struct {
	r *Runtime
}

func (p *consolePrinter) Log(msg string) {
	p.r.captureConsole("log", msg)
}

func (p *consolePrinter) Warn(msg string) {
	p.r.captureConsole("warn", msg)
}

func (p *consolePrinter) Error(msg string) {
	p.r.captureConsole("error", msg)
}

func (r *Runtime) captureConsole(level, message string) {
	switch level {
	case "warn":
		r.logger.Warn("guest console", zap.String("message", message))
	case "error":
		r.logger.Error("guest console", zap.String("message", message))
	default:
		r.logger.Info("guest console", zap.String("message", message))
	}

	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	r.console = append(r.console, LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// drainConsole returns and clears the captured entries
func (r *Runtime) drainConsole() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	out := r.console
	r.console = []LogEntry{}
	return out
}
