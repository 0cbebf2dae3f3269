package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrRecordNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRecordNotFound is returned when an identity does not exist.
	ErrRecordNotFound = errors.New("device: record not found")

	// ErrEmptyIdentity is returned when a sighting or record carries an
	// empty identity. Adapters must never emit these.
	ErrEmptyIdentity = errors.New("device: empty identity")

	// ErrInvalidTransport is returned when a transport value is not recognised.
	ErrInvalidTransport = errors.New("device: invalid transport")
)
