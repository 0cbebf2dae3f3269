// Package history provides the reactive query view over the device
// registry: filtered, most-recent-first, kept current as filter inputs
// change.
//
// Search text is debounced; transport and date-window changes requery
// immediately. Superseded in-flight queries are discarded and a failed
// query publishes an empty list, never stale rows.
package history
