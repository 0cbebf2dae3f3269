package discovery

import (
	"context"
	"time"

	"github.com/nearbyscan/nearby-core/internal/device"
)

// EventKind discriminates adapter events.
type EventKind int

// Event kinds.
const (
	// EventSighting carries a device observation.
	EventSighting EventKind = iota

	// EventDeparture signals a peer leaving (network goodbye). It removes
	// the working-set entry but never touches the persisted record.
	EventDeparture
)

// Event is one item on an adapter's event stream.
type Event struct {
	Kind EventKind

	// Sighting is set for EventSighting.
	Sighting device.Sighting

	// Identity is set for EventDeparture: the working-set key to remove.
	Identity string
}

// Adapter is the contract discovery adapters implement. Implementations
// wrap a platform discovery mechanism (radio scan, mDNS browse) and emit
// an ordered stream of events for one transport.
//
// Start begins emission and arranges auto-stop after timeout; a timeout of
// zero uses the adapter's default. Start is a no-op error when the
// transport is in a state that forbids discovery (radio powered off).
// Stop halts emission immediately and is idempotent. The Events channel is
// closed when the adapter stops, which is how session loops learn that the
// stream ended.
type Adapter interface {
	Start(ctx context.Context, timeout time.Duration) error
	Stop()
	Running() bool
	Events() <-chan Event
	Transport() device.Transport
}

// RadioState is the power/availability state of the radio transport,
// reported by the radio adapter's state stream. Network discovery has no
// equivalent notion.
type RadioState int

// Radio states.
const (
	RadioStateUnknown RadioState = iota
	RadioStateResetting
	RadioStateUnsupported
	RadioStateUnauthorized
	RadioStatePoweredOff
	RadioStatePoweredOn
)

// String returns a human-readable state name for logging.
func (s RadioState) String() string {
	switch s {
	case RadioStateResetting:
		return "resetting"
	case RadioStateUnsupported:
		return "unsupported"
	case RadioStateUnauthorized:
		return "unauthorized"
	case RadioStatePoweredOff:
		return "powered_off"
	case RadioStatePoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// StateNotifier is implemented by adapters that expose a power state
// stream (the radio adapter). The channel delivers the current state to
// new subscribers and every transition thereafter.
type StateNotifier interface {
	States() <-chan RadioState
}
