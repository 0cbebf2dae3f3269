package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nearbyscan/nearby-core/internal/infrastructure/config"
)

// Broker-backed tests expect Mosquitto at 127.0.0.1:1883 and skip when
// it is not running.

func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip dials the local broker, skipping the test when nothing
// listens there.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig(clientID)
	addr := fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", addr, err)
	}
	conn.Close()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-connect")
	if !client.IsConnected() {
		t.Error("IsConnected() = false after successful Connect")
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig("nearbyscan-test-nobroker")
	cfg.Broker.Port = 19999 // nothing listens here

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-health")

	t.Run("healthy", func(t *testing.T) {
		if err := client.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck() error = %v, want nil", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := client.HealthCheck(ctx); err == nil {
			t.Error("HealthCheck() = nil for cancelled context")
		}
	})
}

func TestHealthCheckAfterClose(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-health-closed")
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-pub")

	t.Run("snapshot payload", func(t *testing.T) {
		topic := Topics{}.DiscoverySnapshot("radio")
		payload := []byte(`{"transport":"radio","count":1,"peers":[{"identity":"AA:BB"}]}`)
		if err := client.Publish(topic, payload, 1, false); err != nil {
			t.Errorf("Publish() error = %v", err)
		}
	})

	t.Run("retained with default QoS", func(t *testing.T) {
		topic := Topics{}.DiscoverySnapshot("network")
		payload := []byte(`{"transport":"network","count":0,"peers":[]}`)
		if err := client.PublishRetained(topic, payload); err != nil {
			t.Errorf("PublishRetained() error = %v", err)
		}
	})

	t.Run("empty topic rejected", func(t *testing.T) {
		err := client.Publish("", []byte(`{}`), 1, false)
		if !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
		}
	})

	t.Run("QoS above 2 rejected", func(t *testing.T) {
		err := client.Publish(Topics{}.ScanCommand(), []byte(`{}`), 3, false)
		if !errors.Is(err, ErrInvalidQoS) {
			t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
		}
	})

	t.Run("oversized payload rejected", func(t *testing.T) {
		payload := make([]byte, maxPayloadSize+1)
		err := client.Publish(Topics{}.DiscoverySnapshot("radio"), payload, 1, false)
		if !errors.Is(err, ErrPublishFailed) {
			t.Errorf("Publish() oversized payload error = %v, want ErrPublishFailed", err)
		}
	})
}

func TestPublishAfterClose(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-pub-closed")
	client.Close()

	err := client.Publish(Topics{}.DiscoverySnapshot("radio"), []byte(`{}`), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-sub")

	topic := Topics{}.ScanCommand()
	received := make(chan []byte, 1)
	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	payload := []byte(`{"transport":"all"}`)
	if err := client.Publish(topic, payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Errorf("received %s, want %s", got, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scan command not received within timeout")
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-nilhandler")

	if err := client.Subscribe(Topics{}.ScanCommand(), 1, nil); err == nil {
		t.Error("Subscribe() = nil for nil handler")
	}
}

func TestUnsubscribe(t *testing.T) {
	client := connectOrSkip(t, "nearbyscan-test-unsub")

	topic := Topics{}.RegistryRemoved()
	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

// Frontends watch all transports with one single-level wildcard under
// the discovery branch.
func TestWildcardSubscription(t *testing.T) {
	pub := connectOrSkip(t, "nearbyscan-test-wild-pub")
	sub := connectOrSkip(t, "nearbyscan-test-wild-sub")

	var mu sync.Mutex
	seen := make(map[string]bool)
	err := sub.Subscribe(TopicPrefix+"/discovery/+", 1,
		func(topic string, _ []byte) error {
			mu.Lock()
			seen[topic] = true
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	topics := []string{
		Topics{}.DiscoverySnapshot("radio"),
		Topics{}.DiscoverySnapshot("network"),
	}
	for _, topic := range topics {
		if err := pub.Publish(topic, []byte(`{"peers":[]}`), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", topic, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(seen)
		mu.Unlock()
		if got == len(topics) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("wildcard subscription saw %d topics, want %d", len(seen), len(topics))
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"radio snapshot", topics.DiscoverySnapshot("radio"), "nearbyscan/discovery/radio"},
		{"network snapshot", topics.DiscoverySnapshot("network"), "nearbyscan/discovery/network"},
		{"scan command", topics.ScanCommand(), "nearbyscan/command/scan"},
		{"registry removed", topics.RegistryRemoved(), "nearbyscan/registry/removed"},
		{"system status", topics.SystemStatus(), "nearbyscan/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestSubscriptionTrackingEmpty(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if got := client.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", got)
	}
	if client.HasSubscription(Topics{}.DiscoverySnapshot("radio")) {
		t.Error("HasSubscription() = true for never-subscribed topic")
	}
}
