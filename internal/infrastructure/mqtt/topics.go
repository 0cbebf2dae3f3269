package mqtt

import "fmt"

// Topic prefixes for the Nearby Scan topic hierarchy.
//
// All topics use the flat scheme: nearbyscan/{category}/{detail}
const (
	// TopicPrefix is the base for all Nearby Scan topics.
	TopicPrefix = "nearbyscan"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nearbyscan/system"
)

// Topics provides builders for Nearby Scan MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	snapshotTopic := topics.DiscoverySnapshot("radio")
//	// Returns: "nearbyscan/discovery/radio"
type Topics struct{}

// DiscoverySnapshot returns the retained working-set snapshot topic for
// one transport.
//
// Example: nearbyscan/discovery/radio
func (Topics) DiscoverySnapshot(transport string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, transport)
}

// ScanCommand returns the topic external clients publish to in order to
// trigger an on-demand discovery session.
//
// Example: nearbyscan/command/scan
func (Topics) ScanCommand() string {
	return fmt.Sprintf("%s/command/scan", TopicPrefix)
}

// RegistryRemoved returns the topic carrying registry deletion events
// (identities removed via the history view).
//
// Example: nearbyscan/registry/removed
func (Topics) RegistryRemoved() string {
	return fmt.Sprintf("%s/registry/removed", TopicPrefix)
}

// SystemStatus returns the system status topic. Online status and the
// Last Will both publish here.
//
// Example: nearbyscan/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
