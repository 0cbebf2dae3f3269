// Package discovery folds per-transport peer discovery into a live,
// deduplicated working set.
//
// Each transport (radio, network) runs one Session, which wires an
// Adapter's event stream into a Reconciler and forwards merged sightings
// to the device registry:
//
//	┌─────────┐  Events()  ┌─────────┐  Merge   ┌────────────┐
//	│ Adapter  │──────────▶│ Session │─────────▶│ Reconciler │──▶ snapshots
//	│ (ble/    │           │         │          └────────────┘
//	│  mdns)   │           │         │  async   ┌────────────┐
//	└─────────┘           └─────────┘─────────▶│ device.Store│
//	                                            └────────────┘
//
// # Key Types
//
//   - Adapter: transport driver contract (start, stop, event stream)
//   - Event: a sighting or a peer departure
//   - Reconciler: the in-memory working set, one per transport
//   - Session: lifecycle coordinator tying the three together
//
// # Invariants
//
//   - One working-set entry per identity per transport; repeat sightings
//     update in place.
//   - Radio snapshots sort by RSSI descending, name ascending on ties;
//     network snapshots keep first-seen insertion order.
//   - Snapshot N+1 reflects every event merged before it; subscribers
//     always receive the latest snapshot (intermediate ones may be
//     conflated away).
//   - Persistence is at-most-once and never blocks the live view.
//   - A departure removes the working-set entry only; persisted records
//     survive.
//
// # Thread Safety
//
// Reconciler and Session are safe for concurrent use. Event processing
// for a session runs on a single goroutine, so a transport's working-set
// mutations are strictly ordered.
package discovery
