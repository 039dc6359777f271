package session

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrClosed          = errors.New("session closed")
	ErrAlreadyInjected = errors.New("primitive already injected")
)

// BindingState reports how far binding installation got
type BindingState string

const (
	BindingPending  BindingState = "pending"
	BindingAttached BindingState = "attached"
	BindingFailed   BindingState = "failed"
)

// CreateOptions describes a new guest session
type CreateOptions struct {
	Name        string        // Display name, defaults to the session id
	Scripts     []string      // Bootstrap sources loaded in order before injection
	InjectAfter time.Duration // Delay before the host primitive appears
	SkipInject  bool          // Leave injection to an explicit Inject call
}

// Info is a point-in-time view of a session
type Info struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	CreatedAt       time.Time    `json:"created_at"`
	Injected        bool         `json:"injected"`
	Binding         BindingState `json:"binding"`
	BindingError    string       `json:"binding_error,omitempty"`
	InstallAttempts int          `json:"install_attempts"`
	Pending         int          `json:"pending"`
	EnvelopesIn     int64        `json:"envelopes_in"`
	EnvelopesOut    int64        `json:"envelopes_out"`
	Dropped         int64        `json:"dropped"`
	Subscribers     int          `json:"subscribers"`
}

// Stats aggregates all live sessions
type Stats struct {
	Active       int   `json:"active"`
	Injected     int   `json:"injected"`
	Attached     int   `json:"attached"`
	Failed       int   `json:"failed"`
	EnvelopesIn  int64 `json:"envelopes_in"`
	EnvelopesOut int64 `json:"envelopes_out"`
	Dropped      int64 `json:"dropped"`
}
