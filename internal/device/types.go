package device

import "time"

// Transport identifies which discovery mechanism observed a device.
//
// The values are stable and stored as integers in the database; do not
// reorder them.
type Transport int

// Transport constants.
const (
	// TransportRadio is short-range radio broadcast/scan discovery.
	TransportRadio Transport = 0

	// TransportNetwork is local-network service discovery.
	TransportNetwork Transport = 1
)

// String returns a human-readable transport name for logging.
func (t Transport) String() string {
	switch t {
	case TransportRadio:
		return "radio"
	case TransportNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known transport value.
func (t Transport) Valid() bool {
	return t == TransportRadio || t == TransportNetwork
}

// Sighting is a single observation of one device at one point in time,
// tagged by transport. Adapters construct sightings and guarantee a
// non-empty Identity before they reach the reconciler.
type Sighting struct {
	// Identity is the transport-specific deduplication key: a stable
	// hardware identifier for radio, the host name (or advertised name)
	// for network peers. Never empty.
	Identity string `json:"identity"`

	// Name is the advertised display name. May be empty or the "unknown"
	// placeholder while the adapter is still resolving a real name.
	Name string `json:"name,omitempty"`

	// Transport tags which adapter produced this sighting.
	Transport Transport `json:"transport"`

	// RSSI is the received signal strength in dBm. Radio only; zero for
	// network sightings.
	RSSI int `json:"rssi,omitempty"`

	// Address is the resolved network address. Network only; empty for
	// radio sightings.
	Address string `json:"address,omitempty"`

	// Attributes holds auxiliary advertisement metadata (manufacturer
	// data keys, TXT records). Repeated sightings of the same identity
	// accumulate attributes additively: new keys overwrite, absent keys
	// are preserved.
	Attributes map[string]string `json:"attributes,omitempty"`

	// ObservedAt is when the adapter saw the device. Note that persisted
	// records stamp ingestion time at merge, not this value.
	ObservedAt time.Time `json:"observed_at"`

	// LastSeen is stamped by the reconciler at merge time.
	LastSeen time.Time `json:"last_seen"`
}

// Clone returns an independent copy of the sighting. The attribute map is
// copied so mutations of the clone do not affect the original.
func (s Sighting) Clone() Sighting {
	cpy := s
	if s.Attributes != nil {
		cpy.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			cpy.Attributes[k] = v
		}
	}
	return cpy
}

// Record is the persisted, deduplicated form of a device: one row per
// identity in the registry store. This matches the records table created by
// migrations/20260815_120000_initial_schema.up.sql.
type Record struct {
	// Identity is the primary key. The transport of an identity is fixed
	// at creation and never changes.
	Identity string `json:"identity"`

	// Name is the last known meaningful display name. Nil means no real
	// name has been observed yet; it is never set to an empty string or
	// the "unknown" placeholder (see ResolveName).
	Name *string `json:"name,omitempty"`

	// Transport is immutable once the record exists.
	Transport Transport `json:"transport"`

	// LastSeen is the ingestion time of the most recent sighting.
	LastSeen time.Time `json:"last_seen"`

	// RSSI is the last known signal strength for radio records. Network
	// records keep the zero sentinel; the column is NOT NULL to keep the
	// schema simple.
	RSSI int `json:"rssi"`

	// Address is the last known network address, network records only.
	Address *string `json:"address,omitempty"`

	// Attributes is the accumulated advertisement metadata.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Timestamps.
	FirstSeen time.Time `json:"first_seen"`
}

// DisplayName returns the stored name, or the identity when no meaningful
// name has been observed.
func (r *Record) DisplayName() string {
	if r.Name != nil {
		return *r.Name
	}
	return r.Identity
}

// Clone returns an independent copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.Name != nil {
		name := *r.Name
		cpy.Name = &name
	}
	if r.Address != nil {
		addr := *r.Address
		cpy.Address = &addr
	}
	if r.Attributes != nil {
		cpy.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			cpy.Attributes[k] = v
		}
	}
	return &cpy
}
