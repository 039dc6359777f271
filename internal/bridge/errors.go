package bridge

import "errors"

var (
	// ErrNotCallable is returned when a listener is not a function
	ErrNotCallable = errors.New("addListener: listener for binding must be a function")

	// ErrInstallExhausted settles readiness when the primitive never appeared
	ErrInstallExhausted = errors.New("setupBinding: maximum install tries exceeded")

	// ErrInstallPanic wraps a panic recovered during an install attempt
	ErrInstallPanic = errors.New("setupBinding: install attempt panicked")

	// ErrAlreadyPublished is returned by a scope asked to publish twice
	ErrAlreadyPublished = errors.New("binding already published")
)
