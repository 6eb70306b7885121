// Package domainerr replaces the original's chained Option/Result unwraps
// (REDESIGN FLAGS) with a small, explicit set of sentinel error kinds that
// every edge handler can translate into a bus response envelope.
package domainerr

import "errors"

var (
	// ErrValidation means the caller's input failed a shape or content
	// check; never persisted, always reported back as {ok:false}.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization means the caller's certificate does not carry the
	// required security tier or delegation for this action.
	ErrAuthorization = errors.New("not authorized")
	// ErrDuplicate means a write collided with an existing document and is
	// treated as success (idempotent replay), not a caller-visible error.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotFound means the referenced document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient means the operation failed for a reason that may not
	// recur (peer unavailable, bus timeout) and the caller should retry.
	ErrTransient = errors.New("transient failure")
)

// Is reports whether err wraps target, by forwarding to errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
