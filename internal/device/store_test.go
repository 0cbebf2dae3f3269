package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// testStore builds a store over the in-memory backend with a controllable
// clock.
func testStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	store := NewStore(NewMemoryRepository())
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	store.setClock(func() time.Time { return now })
	return store, &now
}

func radioSighting(identity, name string, rssi int) Sighting {
	return Sighting{
		Identity:   identity,
		Name:       name,
		Transport:  TransportRadio,
		RSSI:       rssi,
		ObservedAt: time.Date(2026, 8, 15, 11, 59, 0, 0, time.UTC),
	}
}

func TestStore_RecordSighting_CreatesRecord(t *testing.T) {
	store, clock := testStore(t)
	ctx := context.Background()

	if err := store.RecordSighting(ctx, radioSighting("AA:BB", "Pixel 7", -54)); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	rec, err := store.Get(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name == nil || *rec.Name != "Pixel 7" {
		t.Errorf("Name = %v, want %q", rec.Name, "Pixel 7")
	}
	if rec.RSSI != -54 {
		t.Errorf("RSSI = %d, want -54", rec.RSSI)
	}
	// LastSeen is stamped at merge time, not the event's ObservedAt.
	if !rec.LastSeen.Equal(*clock) {
		t.Errorf("LastSeen = %v, want merge time %v", rec.LastSeen, *clock)
	}
}

func TestStore_RecordSighting_RejectsEmptyIdentity(t *testing.T) {
	store, _ := testStore(t)

	err := store.RecordSighting(context.Background(), Sighting{Transport: TransportRadio})
	if !errors.Is(err, ErrEmptyIdentity) {
		t.Errorf("error = %v, want ErrEmptyIdentity", err)
	}
}

func TestStore_RecordSighting_Idempotent(t *testing.T) {
	store, clock := testStore(t)
	ctx := context.Background()

	ev := radioSighting("AA:BB", "Pixel 7", -54)
	if err := store.RecordSighting(ctx, ev); err != nil {
		t.Fatalf("first RecordSighting() error = %v", err)
	}

	// Second sighting a minute later with identical data.
	*clock = clock.Add(time.Minute)
	if err := store.RecordSighting(ctx, ev); err != nil {
		t.Fatalf("second RecordSighting() error = %v", err)
	}

	all, err := store.Fetch(ctx, Filter{}, SortLastSeenDesc, 0)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
	rec := all[0]
	if rec.Name == nil || *rec.Name != "Pixel 7" || rec.RSSI != -54 {
		t.Errorf("record fields changed: name=%v rssi=%d", rec.Name, rec.RSSI)
	}
	if !rec.LastSeen.Equal(*clock) {
		t.Errorf("LastSeen = %v, want advanced to second call %v", rec.LastSeen, *clock)
	}
}

func TestStore_NameNeverRegresses(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	// "" then "Thermostat" then "unknown": final name is "Thermostat".
	for _, name := range []string{"", "Thermostat", "unknown"} {
		if err := store.RecordSighting(ctx, radioSighting("AA:BB", name, -60)); err != nil {
			t.Fatalf("RecordSighting(%q) error = %v", name, err)
		}
	}

	rec, err := store.Get(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name == nil || *rec.Name != "Thermostat" {
		t.Errorf("Name = %v, want %q", rec.Name, "Thermostat")
	}
}

func TestStore_NamePreservedAcrossStoredValue(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.RecordSighting(ctx, radioSighting("AA:BB", "Kitchen Speaker", -60)); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}
	if err := store.RecordSighting(ctx, radioSighting("AA:BB", "unknown", -58)); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	rec, err := store.Get(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name == nil || *rec.Name != "Kitchen Speaker" {
		t.Errorf("Name = %v, want preserved %q", rec.Name, "Kitchen Speaker")
	}
	if rec.RSSI != -58 {
		t.Errorf("RSSI = %d, want refreshed -58", rec.RSSI)
	}
}

func TestStore_TransportImmutable(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.RecordSighting(ctx, radioSighting("shared-id", "Pixel 7", -54)); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	err := store.RecordSighting(ctx, Sighting{
		Identity:  "shared-id",
		Name:      "Printer",
		Transport: TransportNetwork,
		Address:   "printer.local:9100",
	})
	if !errors.Is(err, ErrInvalidTransport) {
		t.Errorf("error = %v, want ErrInvalidTransport", err)
	}

	// Record is untouched.
	rec, err := store.Get(ctx, "shared-id")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Transport != TransportRadio {
		t.Errorf("Transport = %v, want radio", rec.Transport)
	}
}

func TestStore_AttributesAccumulate(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	first := radioSighting("AA:BB", "Pixel 7", -54)
	first.Attributes = map[string]string{"mfr": "0x004C", "tx_power": "-8"}
	if err := store.RecordSighting(ctx, first); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	second := radioSighting("AA:BB", "Pixel 7", -50)
	second.Attributes = map[string]string{"tx_power": "-4", "svc": "fe2c"}
	if err := store.RecordSighting(ctx, second); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	rec, err := store.Get(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := map[string]string{"mfr": "0x004C", "tx_power": "-4", "svc": "fe2c"}
	for k, v := range want {
		if rec.Attributes[k] != v {
			t.Errorf("Attributes[%q] = %q, want %q", k, rec.Attributes[k], v)
		}
	}
}

func TestStore_ConcurrentSameIdentityUpserts(t *testing.T) {
	// Real clock here: the point is that racing same-identity writers
	// never lose the meaningful name to a placeholder.
	store := NewStore(NewMemoryRepository())
	ctx := context.Background()

	if err := store.RecordSighting(ctx, radioSighting("AA:BB", "Kitchen Speaker", -60)); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	const writers = 16
	const iterations = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				name := ""
				if w%2 == 0 {
					name = "unknown"
				}
				ev := radioSighting("AA:BB", name, -60-w)
				if err := store.RecordSighting(ctx, ev); err != nil {
					t.Errorf("RecordSighting() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	rec, err := store.Get(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name == nil || *rec.Name != "Kitchen Speaker" {
		t.Errorf("Name = %v, want %q after concurrent placeholder storm", rec.Name, "Kitchen Speaker")
	}
}

func TestStore_ConcurrentDistinctIdentities(t *testing.T) {
	store := NewStore(NewMemoryRepository())
	ctx := context.Background()

	const devices = 64
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("AA:%02X", i)
			if err := store.RecordSighting(ctx, radioSighting(identity, "Device", -60)); err != nil {
				t.Errorf("RecordSighting(%s) error = %v", identity, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := store.Fetch(ctx, Filter{}, SortLastSeenDesc, 0)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(all) != devices {
		t.Errorf("got %d records, want %d", len(all), devices)
	}
}

func TestStore_DeleteWhereReturnsIdentities(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.RecordSighting(ctx, radioSighting("AA:BB", "a", -60)); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}
	if err := store.RecordSighting(ctx, Sighting{
		Identity:  "printer.local",
		Name:      "Printer",
		Transport: TransportNetwork,
	}); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	removed, err := store.DeleteWhere(ctx, Filter{})
	if err != nil {
		t.Fatalf("DeleteWhere() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed = %v, want 2 identities", removed)
	}
}
