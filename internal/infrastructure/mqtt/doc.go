// Package mqtt is the scanner's outward-facing event surface.
//
// Working-set snapshots are mirrored to retained topics under
// nearbyscan/discovery/{transport}, registry deletions are announced on
// nearbyscan/registry/removed, and external clients trigger on-demand
// scans by publishing to nearbyscan/command/scan. A retained status
// message plus a Last Will on nearbyscan/system/status lets consumers
// tell a graceful shutdown from a crash.
//
// The client wraps paho with auto-reconnect, subscription restoration
// and panic containment around handlers:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DiscoverySnapshot("radio")
//	client.PublishRetained(topic, snapshotJSON)
package mqtt
