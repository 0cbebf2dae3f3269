package discovery

import "errors"

// Domain-specific errors for discovery sessions and adapters.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyRunning is returned when starting a session that is
	// already discovering.
	ErrAlreadyRunning = errors.New("discovery: session already running")

	// ErrNotRunning is returned by operations that require an active
	// session.
	ErrNotRunning = errors.New("discovery: session not running")

	// ErrTransportUnavailable is returned when the transport is in a
	// state that forbids discovery (e.g. radio powered off).
	ErrTransportUnavailable = errors.New("discovery: transport unavailable")

	// ErrTransportMismatch is returned when a session is assembled from
	// an adapter and reconciler serving different transports.
	ErrTransportMismatch = errors.New("discovery: adapter and reconciler transport mismatch")
)
