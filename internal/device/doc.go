// Package device provides the device registry core for Nearby Scan.
//
// It holds the domain model shared by the discovery and history layers:
// sighting events, persisted device records, the transport enum, and the
// rules that govern how a duplicate-heavy sighting stream collapses into
// stable per-identity records.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                          Registry Store                             │
//	│                                                                     │
//	│  ┌───────────────┐    ┌──────────────────┐    ┌─────────────────┐  │
//	│  │     Store     │    │    Repository    │    │   Name policy   │  │
//	│  │  (store.go)   │───▶│ (repository.go,  │    │   (names.go)    │  │
//	│  │               │    │  memory.go)      │    │                 │  │
//	│  │ • upsert rules│    │ • SQLite backend │    │ • placeholder   │  │
//	│  │ • per-identity│    │ • in-memory twin │    │   rejection     │  │
//	│  │   locking     │    │ • filter queries │    │ • non-regression│  │
//	│  └───────────────┘    └──────────────────┘    └─────────────────┘  │
//	└────────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Sighting: one observation of one device at one point in time
//   - Record: the persisted, deduplicated per-identity row
//   - Transport: Radio (broadcast/scan) or Network (service discovery)
//   - Filter: conjunctive predicate for fetch and bulk delete
//   - Store: upsert façade enforcing the merge invariants
//
// # Invariants
//
//   - one record per identity; transport is fixed at creation
//   - a meaningful stored name never regresses to empty or "unknown"
//   - last-seen is stamped at ingestion time, monotonically non-decreasing
//     under normal operation
//   - records are removed only by explicit deletion, never expired
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	store := device.NewStore(repo)
//	store.SetLogger(log)
//
//	// Merge a sighting (from a discovery session)
//	err := store.RecordSighting(ctx, device.Sighting{
//	    Identity:  "AA:BB:CC:DD:EE:FF",
//	    Name:      "Pixel 7",
//	    Transport: device.TransportRadio,
//	    RSSI:      -54,
//	})
//
//	// Query history
//	radio := device.TransportRadio
//	records, _ := store.Fetch(ctx, device.Filter{Transport: &radio},
//	    device.SortLastSeenDesc, 50)
//
// # Thread Safety
//
// Store and both Repository implementations are safe for concurrent use.
// Same-identity upserts are strictly serialized; cross-identity upserts
// run concurrently.
package device
