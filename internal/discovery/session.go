package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/nearbyscan/nearby-core/internal/device"
)

// Default session bounds.
const (
	// DefaultScanTimeout bounds a scan/browse session; the session
	// auto-stops when it elapses.
	DefaultScanTimeout = 15 * time.Second

	// persistQueueSize bounds the fire-and-forget persistence queue.
	// When the store cannot keep up the oldest pending sightings are
	// dropped, matching the at-most-once persistence guarantee.
	persistQueueSize = 256
)

// Logger is the logging interface used by discovery types.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives merged sightings for persistence. *device.Store satisfies
// this interface.
type Sink interface {
	RecordSighting(ctx context.Context, sighting device.Sighting) error
}

// Telemetry receives signal-strength measurements for radio sightings.
// The InfluxDB client satisfies this interface; writes must be
// non-blocking.
type Telemetry interface {
	WriteSignalStrength(identity string, name string, rssi int)
}

// Session runs one transport's discovery lifecycle: it starts the
// adapter, folds its event stream into the reconciler, and forwards
// merged sightings to the registry store.
//
// Persistence is fire-and-forget relative to snapshot publication: the
// live view may show a device before its record commits, and a failed
// write is logged and dropped, never retried. Departure events remove
// only the working-set entry; the persisted record is untouched.
//
// All public methods are thread-safe. Event processing for one session
// happens on a single goroutine, so working-set mutations for a transport
// are strictly ordered: the snapshot published after event N reflects all
// of events 1..N.
type Session struct {
	adapter   Adapter
	rec       *Reconciler
	sink      Sink
	telemetry Telemetry
	logger    Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Adapter emits the transport's event stream. Required.
	Adapter Adapter

	// Reconciler owns the working set. Required; must serve the same
	// transport as the adapter.
	Reconciler *Reconciler

	// Sink persists merged sightings. Optional; nil disables persistence.
	Sink Sink

	// Telemetry records signal strength for radio sightings. Optional.
	Telemetry Telemetry

	// Logger for session lifecycle and persistence errors. Optional.
	Logger Logger
}

// NewSession assembles a session from its parts.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Adapter.Transport() != opts.Reconciler.Transport() {
		return nil, ErrTransportMismatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{
		adapter:   opts.Adapter,
		rec:       opts.Reconciler,
		sink:      opts.Sink,
		telemetry: opts.Telemetry,
		logger:    logger,
	}, nil
}

// Reconciler returns the session's reconciler, for snapshot subscribers.
func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

// Transport returns the transport this session discovers.
func (s *Session) Transport() device.Transport {
	return s.adapter.Transport()
}

// Running reports whether the session is actively discovering.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins a discovery session bounded by timeout (zero means
// DefaultScanTimeout). The working set is rebuilt from scratch.
//
// Returns ErrAlreadyRunning if the session is active and
// ErrTransportUnavailable (wrapped by the adapter) when discovery cannot
// start.
func (s *Session) Start(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	if err := s.adapter.Start(sessionCtx, timeout); err != nil {
		cancel()
		s.mu.Unlock()
		return err
	}

	s.rec.Reset()
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	persistCh := make(chan device.Sighting, persistQueueSize)
	persistDone := make(chan struct{})
	go s.persistLoop(sessionCtx, persistCh, persistDone)

	go func() {
		defer close(done)
		s.processEvents(persistCh)
		close(persistCh)
		<-persistDone

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		s.logger.Info("discovery session ended", "transport", s.Transport().String())
	}()

	s.logger.Info("discovery session started",
		"transport", s.Transport().String(),
		"timeout", timeout,
	)
	return nil
}

// Stop halts the session immediately. Idempotent; stopping an inactive
// session is a no-op. Blocks until in-flight event processing drains.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	s.adapter.Stop()
	<-done
}

// Wait blocks until the current session ends (timeout, stop, or adapter
// shutdown). Returns immediately if no session is active.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// processEvents is the session's single processing goroutine. It drains
// the adapter's stream in arrival order until the adapter closes it.
func (s *Session) processEvents(persistCh chan<- device.Sighting) {
	for ev := range s.adapter.Events() {
		switch ev.Kind {
		case EventSighting:
			if ev.Sighting.Identity == "" {
				// Adapters guarantee non-empty identities; drop
				// anything malformed rather than poison the set.
				s.logger.Warn("dropping sighting with empty identity",
					"transport", s.Transport().String())
				continue
			}
			merged := s.rec.Merge(ev.Sighting)

			if s.telemetry != nil && merged.Transport == device.TransportRadio {
				s.telemetry.WriteSignalStrength(merged.Identity, merged.Name, merged.RSSI)
			}

			if s.sink != nil {
				select {
				case persistCh <- merged:
				default:
					s.logger.Warn("persistence queue full, dropping sighting",
						"identity", merged.Identity)
				}
			}

		case EventDeparture:
			if s.rec.Remove(ev.Identity) {
				s.logger.Debug("peer departed", "identity", ev.Identity)
			}
		}
	}
}

// persistLoop commits merged sightings to the sink. Errors are logged and
// the sighting dropped: at-most-once persistence, the live view is
// unaffected.
func (s *Session) persistLoop(ctx context.Context, persistCh <-chan device.Sighting, done chan<- struct{}) {
	defer close(done)
	for sighting := range persistCh {
		if err := s.sink.RecordSighting(ctx, sighting); err != nil {
			if ctx.Err() != nil {
				// Session is shutting down; remaining writes would
				// all fail the same way.
				return
			}
			s.logger.Error("persisting sighting failed, history entry lost",
				"identity", sighting.Identity,
				"error", err,
			)
		}
	}
}
