package discovery

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nearbyscan/nearby-core/internal/device"
)

// Publisher is the broker-facing surface the announcer needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// announcedPeer is the wire form of one working-set entry.
type announcedPeer struct {
	Identity   string            `json:"identity"`
	Name       string            `json:"name,omitempty"`
	RSSI       int               `json:"rssi,omitempty"`
	Address    string            `json:"address,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	LastSeen   time.Time         `json:"last_seen"`
}

// announcement is the retained snapshot payload for one transport.
type announcement struct {
	Transport string          `json:"transport"`
	Count     int             `json:"count"`
	Peers     []announcedPeer `json:"peers"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Announcer mirrors a reconciler's snapshots onto a retained MQTT topic so
// external consumers (dashboards, automations) see the live working set
// without talking to this process. One announcer per transport.
//
// Publication rides the reconciler's conflated subscription: a slow broker
// skips intermediate snapshots but always receives the latest one.
type Announcer struct {
	publisher Publisher
	topic     string
	logger    Logger

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewAnnouncer creates an announcer publishing to topic. Logger may be nil.
func NewAnnouncer(publisher Publisher, topic string, logger Logger) *Announcer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Announcer{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Watch subscribes to the reconciler and publishes each snapshot until
// Close is called. Calling Watch twice replaces the previous subscription.
func (a *Announcer) Watch(rec *Reconciler) {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	ch, cancel := rec.Subscribe()
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	transport := rec.Transport()
	a.mu.Unlock()

	go func() {
		defer close(done)
		for snapshot := range ch {
			if err := a.publish(transport, snapshot); err != nil {
				a.logger.Warn("snapshot announcement failed",
					"topic", a.topic,
					"error", err,
				)
			}
		}
	}()
}

// Close stops announcing. Idempotent.
func (a *Announcer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil
}

func (a *Announcer) publish(transport device.Transport, snapshot []device.Sighting) error {
	msg := announcement{
		Transport: transport.String(),
		Count:     len(snapshot),
		Peers:     make([]announcedPeer, len(snapshot)),
		UpdatedAt: time.Now().UTC(),
	}
	for i, s := range snapshot {
		msg.Peers[i] = announcedPeer{
			Identity:   s.Identity,
			Name:       s.Name,
			RSSI:       s.RSSI,
			Address:    s.Address,
			Attributes: s.Attributes,
			LastSeen:   s.LastSeen,
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return a.publisher.PublishRetained(a.topic, payload)
}
