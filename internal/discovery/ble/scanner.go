package ble

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/nearbyscan/nearby-core/internal/device"
	"github.com/nearbyscan/nearby-core/internal/discovery"
)

// eventBuffer bounds the adapter-to-session channel. The radio stack can
// burst advertisements faster than the session merges them; dropping on
// overflow is fine because peers re-broadcast within the advertising
// interval anyway.
const eventBuffer = 64

// Scanner is the radio transport driver. It wraps the platform Bluetooth
// adapter (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows) and
// translates advertisement callbacks into discovery events.
//
// The platform adapter is a process-wide singleton, so at most one
// Scanner should exist per process.
type Scanner struct {
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	enabled bool
	running bool
	cancel  context.CancelFunc
	events  chan discovery.Event
	states  chan discovery.RadioState
}

// NewScanner wraps the default platform Bluetooth adapter.
func NewScanner() *Scanner {
	return &Scanner{
		adapter: bluetooth.DefaultAdapter,
		states:  make(chan discovery.RadioState, 4),
	}
}

// Transport reports the radio transport.
func (s *Scanner) Transport() device.Transport {
	return device.TransportRadio
}

// Running reports whether a scan is in progress.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Events returns the current session's event stream. Closed when the
// scan ends. Only valid between Start and the end of the session.
func (s *Scanner) Events() <-chan discovery.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// States reports radio power transitions observed at session boundaries.
// The platform stacks expose no asynchronous power watcher, so state is
// probed when a scan starts or fails.
func (s *Scanner) States() <-chan discovery.RadioState {
	return s.states
}

// Start powers the adapter if needed and begins scanning for at most
// timeout. Advertisements surface as EventSighting events; radio peers
// never announce departure, so the stream carries sightings only.
//
// Returns discovery.ErrAlreadyRunning if a scan is active and a wrapped
// discovery.ErrTransportUnavailable when the radio cannot be enabled.
func (s *Scanner) Start(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return discovery.ErrAlreadyRunning
	}

	if !s.enabled {
		if err := s.adapter.Enable(); err != nil {
			s.mu.Unlock()
			s.pushState(discovery.RadioStatePoweredOff)
			return fmt.Errorf("%w: enabling bluetooth adapter: %v",
				discovery.ErrTransportUnavailable, err)
		}
		s.enabled = true
	}
	s.pushState(discovery.RadioStatePoweredOn)

	if timeout <= 0 {
		timeout = discovery.DefaultScanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)

	s.running = true
	s.cancel = cancel
	s.events = make(chan discovery.Event, eventBuffer)
	events := s.events
	s.mu.Unlock()

	go func() {
		// Scan blocks until StopScan; the deadline watcher below
		// unblocks it.
		err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			ev := discovery.Event{
				Kind:     discovery.EventSighting,
				Sighting: sightingFromResult(result),
			}
			select {
			case events <- ev:
			default:
				// Session is behind; the next advertisement from this
				// peer carries fresher data anyway.
			}
		})

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		close(events)

		if err != nil {
			s.pushState(discovery.RadioStateUnknown)
		}
	}()

	go func() {
		<-scanCtx.Done()
		// Either the timeout elapsed or Stop was called.
		_ = s.adapter.StopScan()
	}()

	return nil
}

// Stop ends the current scan. Idempotent.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// pushState publishes a radio state transition, dropping the oldest
// pending state if nobody is listening.
func (s *Scanner) pushState(state discovery.RadioState) {
	select {
	case s.states <- state:
	default:
		select {
		case <-s.states:
		default:
		}
		select {
		case s.states <- state:
		default:
		}
	}
}

// sightingFromResult translates a platform scan result. The advertised
// local name is frequently empty or a vendor placeholder; the registry's
// name policy deals with that downstream.
func sightingFromResult(result bluetooth.ScanResult) device.Sighting {
	sighting := device.Sighting{
		Identity:   result.Address.String(),
		Name:       result.LocalName(),
		Transport:  device.TransportRadio,
		RSSI:       int(result.RSSI),
		ObservedAt: time.Now().UTC(),
	}
	if result.RSSI != 0 {
		sighting.Attributes = map[string]string{
			"ble.rssi": strconv.Itoa(int(result.RSSI)),
		}
	}
	return sighting
}
