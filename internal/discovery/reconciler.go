package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nearbyscan/nearby-core/internal/device"
)

// Reconciler folds a stream of sightings into an ordered, deduplicated
// working set for one transport. The working set is ephemeral: rebuilt
// from scratch on each session start, discarded on stop. It exists only to
// drive the live view and feed the registry store.
//
// Ordering:
//
//   - Radio: descending signal strength, ties broken by case-insensitive
//     ascending name.
//   - Network: discovery order. Peer resolution is a one-shot event per
//     peer, so insertion order reflects resolution completion order.
//
// All mutations happen from the session's processing goroutine, but the
// methods are mutex-protected so snapshots can be taken from anywhere.
type Reconciler struct {
	transport device.Transport

	mu      sync.Mutex
	entries []device.Sighting
	index   map[string]int // identity -> position in entries

	subs   map[int]chan []device.Sighting
	nextID int

	// now stamps LastSeen at merge time, replaceable in tests.
	now func() time.Time
}

// NewReconciler creates an empty reconciler for one transport.
func NewReconciler(transport device.Transport) *Reconciler {
	return &Reconciler{
		transport: transport,
		index:     make(map[string]int),
		subs:      make(map[int]chan []device.Sighting),
		now:       time.Now,
	}
}

// Transport returns the transport this reconciler serves.
func (r *Reconciler) Transport() device.Transport {
	return r.transport
}

// Merge folds one sighting into the working set and publishes the new
// snapshot to subscribers.
//
// A known identity is updated in place: signal strength, address and
// last-seen are refreshed, and the attribute map accumulates additively
// (new keys overwrite, absent keys are preserved). An unknown identity is
// appended. The returned sighting is the merged working-set entry.
func (r *Reconciler) Merge(ev device.Sighting) device.Sighting {
	r.mu.Lock()

	ev = ev.Clone()
	ev.LastSeen = r.now().UTC()

	if pos, ok := r.index[ev.Identity]; ok {
		existing := &r.entries[pos]
		existing.Name = ev.Name
		existing.RSSI = ev.RSSI
		if ev.Address != "" {
			existing.Address = ev.Address
		}
		existing.ObservedAt = ev.ObservedAt
		existing.LastSeen = ev.LastSeen
		if len(ev.Attributes) > 0 {
			if existing.Attributes == nil {
				existing.Attributes = make(map[string]string, len(ev.Attributes))
			}
			for k, v := range ev.Attributes {
				existing.Attributes[k] = v
			}
		}
		ev = existing.Clone()
	} else {
		r.entries = append(r.entries, ev)
		r.index[ev.Identity] = len(r.entries) - 1
	}

	r.resort()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(snapshot)
	return ev
}

// Remove drops an identity from the working set (a departing network
// peer) and publishes the new snapshot. Removing an absent identity is a
// no-op with no publication. The persisted record is not touched; that is
// the caller's contract, not this type's concern.
func (r *Reconciler) Remove(identity string) bool {
	r.mu.Lock()

	pos, ok := r.index[identity]
	if !ok {
		r.mu.Unlock()
		return false
	}

	r.entries = append(r.entries[:pos], r.entries[pos+1:]...)
	delete(r.index, identity)
	for i := pos; i < len(r.entries); i++ {
		r.index[r.entries[i].Identity] = i
	}

	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(snapshot)
	return true
}

// Reset clears the working set at session start and publishes the empty
// snapshot.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.index = make(map[string]int)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(snapshot)
}

// Snapshot returns a copy of the current working set.
func (r *Reconciler) Snapshot() []device.Sighting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of distinct identities in the working set.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Subscribe registers a snapshot consumer. The channel immediately carries
// the current snapshot, then the latest snapshot after each change.
// Delivery is conflated: a slow consumer skips intermediate snapshots but
// always observes the most recent one. The returned cancel function
// unsubscribes and closes the channel.
func (r *Reconciler) Subscribe() (<-chan []device.Sighting, func()) {
	r.mu.Lock()

	id := r.nextID
	r.nextID++
	ch := make(chan []device.Sighting, 1)
	r.subs[id] = ch
	ch <- r.snapshotLocked()

	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// resort re-orders the working set after a merge. Caller holds the lock.
func (r *Reconciler) resort() {
	if r.transport != device.TransportRadio {
		// Network entries keep discovery order.
		return
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].RSSI != r.entries[j].RSSI {
			return r.entries[i].RSSI > r.entries[j].RSSI
		}
		return strings.ToLower(r.entries[i].Name) < strings.ToLower(r.entries[j].Name)
	})
	for i := range r.entries {
		r.index[r.entries[i].Identity] = i
	}
}

// snapshotLocked copies the working set. Caller holds the lock.
func (r *Reconciler) snapshotLocked() []device.Sighting {
	snapshot := make([]device.Sighting, len(r.entries))
	for i := range r.entries {
		snapshot[i] = r.entries[i].Clone()
	}
	return snapshot
}

// publish delivers a snapshot to every subscriber, conflating on full
// channels: the stale pending snapshot is dropped in favour of the new
// one, so subscribers never block the processing chain.
func (r *Reconciler) publish(snapshot []device.Sighting) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
