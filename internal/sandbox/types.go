package sandbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/guestbridge/internal/bridge"
)

var (
	ErrClosed    = errors.New("sandbox is closed")
	ErrTimeout   = errors.New("sandbox execution timeout")
	ErrPanic     = errors.New("panic in guest execution")
	ErrNoBinding = errors.New("binding not installed")
	ErrException = errors.New("guest exception")
	ErrRejected  = errors.New("guest promise rejected")
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration   // Execution timeout, also bounds promise settlement
	MaxCallStackSize int             // Guest call stack ceiling, 0 for goja's default
	Binding          bridge.Config   // Installation settings for the guest binding
	Recorder         bridge.Recorder // Bridge metrics, nil to discard
}

// Result holds execution result
type Result struct {
	Value    any           `json:"value"`    // Exported return value, promises are awaited
	Console  []LogEntry    `json:"console"`  // Console output produced during the run
	Duration time.Duration `json:"duration"` // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`   // log, warn, error
	Message string    `json:"message"` // Log message
	Time    time.Time `json:"time"`    // Timestamp
}

// DefaultConfig returns the standard guest settings
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		Binding:          bridge.DefaultConfig(),
	}
}
