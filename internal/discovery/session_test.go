package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nearbyscan/nearby-core/internal/device"
)

// fakeAdapter is a scripted transport driver for session tests.
type fakeAdapter struct {
	transport device.Transport
	startErr  error

	mu      sync.Mutex
	running bool
	events  chan Event
}

func newFakeAdapter(transport device.Transport) *fakeAdapter {
	return &fakeAdapter{transport: transport}
}

func (a *fakeAdapter) Start(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.running = true
	a.events = make(chan Event, 16)
	return nil
}

func (a *fakeAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	close(a.events)
}

func (a *fakeAdapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *fakeAdapter) Events() <-chan Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events
}

func (a *fakeAdapter) Transport() device.Transport {
	return a.transport
}

func (a *fakeAdapter) emit(ev Event) {
	a.mu.Lock()
	ch := a.events
	a.mu.Unlock()
	ch <- ev
}

// recordingSink captures persisted sightings.
type recordingSink struct {
	mu        sync.Mutex
	sightings []device.Sighting
	err       error
}

func (s *recordingSink) RecordSighting(_ context.Context, sighting device.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sightings = append(s.sightings, sighting)
	return nil
}

func (s *recordingSink) recorded() []device.Sighting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Sighting, len(s.sightings))
	copy(out, s.sightings)
	return out
}

func testSession(t *testing.T, transport device.Transport) (*Session, *fakeAdapter, *recordingSink) {
	t.Helper()
	adapter := newFakeAdapter(transport)
	sink := &recordingSink{}
	session, err := NewSession(SessionOptions{
		Adapter:    adapter,
		Reconciler: NewReconciler(transport),
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session, adapter, sink
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewSessionTransportMismatch(t *testing.T) {
	_, err := NewSession(SessionOptions{
		Adapter:    newFakeAdapter(device.TransportRadio),
		Reconciler: NewReconciler(device.TransportNetwork),
	})
	if !errors.Is(err, ErrTransportMismatch) {
		t.Fatalf("err = %v, want ErrTransportMismatch", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	session, adapter, _ := testSession(t, device.TransportRadio)

	if session.Running() {
		t.Fatal("session running before Start")
	}
	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !session.Running() {
		t.Fatal("session not running after Start")
	}

	t.Run("second start is rejected", func(t *testing.T) {
		if err := session.Start(context.Background(), 0); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("err = %v, want ErrAlreadyRunning", err)
		}
	})

	session.Stop()
	if session.Running() {
		t.Fatal("session still running after Stop")
	}

	t.Run("stop is idempotent", func(t *testing.T) {
		session.Stop()
	})

	t.Run("session can restart", func(t *testing.T) {
		if err := session.Start(context.Background(), 0); err != nil {
			t.Fatalf("restart: %v", err)
		}
		adapter.emit(Event{Kind: EventSighting, Sighting: sighting("aa:bb", "Beacon", -50)})
		waitFor(t, func() bool { return session.Reconciler().Len() == 1 },
			"sighting not merged after restart")
		session.Stop()
	})
}

func TestSessionStartFailure(t *testing.T) {
	session, adapter, _ := testSession(t, device.TransportRadio)
	adapter.startErr = ErrTransportUnavailable

	err := session.Start(context.Background(), 0)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	if session.Running() {
		t.Fatal("session running after failed Start")
	}
}

func TestSessionMergesAndPersists(t *testing.T) {
	session, adapter, sink := testSession(t, device.TransportRadio)

	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("aa:bb", "Beacon", -50)})
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("cc:dd", "Other", -70)})
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("aa:bb", "Beacon", -48)})

	waitFor(t, func() bool { return len(sink.recorded()) == 3 },
		"sightings did not reach the sink")

	if session.Reconciler().Len() != 2 {
		t.Errorf("working set has %d entries, want 2", session.Reconciler().Len())
	}

	recorded := sink.recorded()
	if recorded[0].LastSeen.IsZero() {
		t.Error("persisted sighting missing merge-time LastSeen")
	}
	session.Stop()
}

func TestSessionDepartureRemovesWorkingSetOnly(t *testing.T) {
	session, adapter, sink := testSession(t, device.TransportNetwork)

	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.emit(Event{Kind: EventSighting, Sighting: device.Sighting{
		Identity:  "printer.local",
		Name:      "Printer",
		Transport: device.TransportNetwork,
	}})
	waitFor(t, func() bool { return len(sink.recorded()) == 1 }, "sighting not persisted")

	adapter.emit(Event{Kind: EventDeparture, Identity: "printer.local"})
	waitFor(t, func() bool { return session.Reconciler().Len() == 0 },
		"departed peer still in working set")

	// The record stays persisted: the sink saw exactly one write and no
	// deletion ever reaches it.
	if got := len(sink.recorded()); got != 1 {
		t.Errorf("sink saw %d writes after departure, want 1", got)
	}
	session.Stop()
}

func TestSessionPersistFailureKeepsLiveView(t *testing.T) {
	session, adapter, sink := testSession(t, device.TransportRadio)
	sink.err = errors.New("disk full")

	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("aa:bb", "Beacon", -50)})

	waitFor(t, func() bool { return session.Reconciler().Len() == 1 },
		"failed persistence blocked the live view")
	session.Stop()

	if len(sink.recorded()) != 0 {
		t.Error("sink recorded a sighting despite failing")
	}
}

func TestSessionResetsWorkingSetOnStart(t *testing.T) {
	session, adapter, _ := testSession(t, device.TransportRadio)

	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("aa:bb", "Beacon", -50)})
	waitFor(t, func() bool { return session.Reconciler().Len() == 1 }, "sighting not merged")
	session.Stop()

	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer session.Stop()
	if session.Reconciler().Len() != 0 {
		t.Error("working set survived session restart")
	}
}

func TestSessionDropsEmptyIdentity(t *testing.T) {
	session, adapter, sink := testSession(t, device.TransportRadio)

	if err := session.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("", "Ghost", -50)})
	adapter.emit(Event{Kind: EventSighting, Sighting: sighting("aa:bb", "Real", -50)})

	waitFor(t, func() bool { return len(sink.recorded()) == 1 }, "valid sighting not persisted")
	if session.Reconciler().Len() != 1 {
		t.Errorf("working set has %d entries, want 1", session.Reconciler().Len())
	}
	session.Stop()
}
