package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSignalStrength records one RSSI observation for a radio peer.
//
// This is the primary telemetry method: each merged radio sighting
// produces one point, so signal strength can be graphed over time per
// peer. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - identity: Peer identity (radio hardware address)
//   - name: Advertised name, empty if the peer is unnamed
//   - rssi: Signal strength in dBm (negative, closer to 0 is stronger)
//
// Example:
//
//	client.WriteSignalStrength("aa:bb:cc:dd:ee:ff", "Pixel 7", -58)
func (c *Client) WriteSignalStrength(identity string, name string, rssi int) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"identity": identity,
	}
	if name != "" {
		tags["name"] = name
	}

	point := write.NewPoint(
		"signal_strength",
		tags,
		map[string]interface{}{
			"rssi": rssi,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionSummary records the outcome of one discovery session.
//
// Used for tracking discovery coverage over time: how many distinct
// peers each transport saw per session.
//
// Parameters:
//   - transport: Transport name ("radio" or "network")
//   - peerCount: Distinct peers in the final working set
//   - duration: How long the session ran
func (c *Client) WriteSessionSummary(transport string, peerCount int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"discovery_session",
		map[string]string{
			"transport": transport,
		},
		map[string]interface{}{
			"peer_count":  peerCount,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "scanner-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
