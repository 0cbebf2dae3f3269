// Nearby Scan Core - Local Device Discovery Engine
//
// This is the main entry point for the Nearby Scan Core daemon.
// Nearby Scan watches the local environment over two transports:
//   - Radio: Bluetooth LE advertisement scanning
//   - Network: mDNS/DNS-SD service browsing
//
// Each discovery session merges sightings into a live per-transport
// working set, persists them to the device registry, and announces
// snapshots over MQTT for external consumers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nearbyscan/nearby-core/migrations"

	"github.com/nearbyscan/nearby-core/internal/device"
	"github.com/nearbyscan/nearby-core/internal/discovery"
	"github.com/nearbyscan/nearby-core/internal/discovery/ble"
	"github.com/nearbyscan/nearby-core/internal/discovery/mdns"
	"github.com/nearbyscan/nearby-core/internal/infrastructure/config"
	"github.com/nearbyscan/nearby-core/internal/infrastructure/database"
	"github.com/nearbyscan/nearby-core/internal/infrastructure/influxdb"
	"github.com/nearbyscan/nearby-core/internal/infrastructure/logging"
	"github.com/nearbyscan/nearby-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Nearby Scan Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise the device registry store
	repo := device.NewSQLiteRepository(db.DB)
	store := device.NewStore(repo)
	store.SetLogger(log.With("component", "registry"))
	log.Info("device registry initialised")

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		// Set up MQTT logging callbacks
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled, snapshots will not be announced")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build one discovery session per enabled transport
	sessions, err := buildSessions(cfg, store, influxClient, log)
	if err != nil {
		return fmt.Errorf("building discovery sessions: %w", err)
	}
	log.Info("discovery transports configured",
		"radio", cfg.Discovery.Radio.Enabled,
		"network", cfg.Discovery.Network.Enabled,
	)

	// Announce working-set snapshots over MQTT
	if mqttClient != nil {
		topics := mqtt.Topics{}
		for _, session := range sessions {
			announcer := discovery.NewAnnouncer(
				mqttClient,
				topics.DiscoverySnapshot(session.Transport().String()),
				log.With("component", "announcer"),
			)
			announcer.Watch(session.Reconciler())
			defer announcer.Close()
		}
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// External scan trigger: a publish to the scan command topic starts
	// a new session cycle ahead of the rescan interval.
	scanRequests := make(chan struct{}, 1)
	if mqttClient != nil {
		topics := mqtt.Topics{}
		err = mqttClient.Subscribe(topics.ScanCommand(), byte(cfg.MQTT.QoS), func(_ string, _ []byte) error {
			select {
			case scanRequests <- struct{}{}:
			default: // a cycle is already pending
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribing to scan command: %w", err)
		}
	}

	log.Info("initialisation complete, starting discovery")

	return scanLoop(ctx, cfg, sessions, influxClient, scanRequests, log)
}

// buildSessions constructs a discovery session for each enabled transport.
//
// Parameters:
//   - cfg: Application configuration
//   - store: Registry store receiving merged sightings
//   - influxClient: Telemetry sink for radio RSSI (nil when disabled)
//   - log: Logger instance
//
// Returns:
//   - []*discovery.Session: One session per enabled transport
//   - error: If session construction fails
func buildSessions(cfg *config.Config, store *device.Store, influxClient *influxdb.Client, log *logging.Logger) ([]*discovery.Session, error) {
	var sessions []*discovery.Session

	if cfg.Discovery.Radio.Enabled {
		opts := discovery.SessionOptions{
			Adapter:    ble.NewScanner(),
			Reconciler: discovery.NewReconciler(device.TransportRadio),
			Sink:       store,
			Logger:     log.With("transport", "radio"),
		}
		// Avoid a typed-nil interface when telemetry is disabled
		if influxClient != nil {
			opts.Telemetry = influxClient
		}
		session, err := discovery.NewSession(opts)
		if err != nil {
			return nil, fmt.Errorf("radio session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if cfg.Discovery.Network.Enabled {
		browser := mdns.NewBrowser(cfg.Discovery.Network.Services, cfg.Discovery.Network.Domain)
		browser.SetResolveTimeout(cfg.GetResolveTimeout())
		session, err := discovery.NewSession(discovery.SessionOptions{
			Adapter:    browser,
			Reconciler: discovery.NewReconciler(device.TransportNetwork),
			Sink:       store,
			Logger:     log.With("transport", "network"),
		})
		if err != nil {
			return nil, fmt.Errorf("network session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// scanLoop runs discovery session cycles until the context is cancelled.
//
// With a non-zero rescan interval the loop re-runs sessions on a timer
// (daemon mode); with a zero interval it runs a single cycle and returns
// (single-shot mode). A scan command over MQTT starts the next cycle
// immediately in either mode.
func scanLoop(ctx context.Context, cfg *config.Config, sessions []*discovery.Session, influxClient *influxdb.Client, scanRequests <-chan struct{}, log *logging.Logger) error {
	interval := cfg.GetRescanInterval()
	timeout := cfg.GetScanTimeout()

	for {
		runCycle(ctx, sessions, timeout, influxClient, log)

		if ctx.Err() != nil {
			log.Info("shutdown signal received, cleaning up")
			log.Info("Nearby Scan Core stopped")
			return nil
		}

		if interval == 0 {
			log.Info("single-shot scan complete")
			return nil
		}

		log.Info("waiting for next cycle", "interval", interval)
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			log.Info("Nearby Scan Core stopped")
			return nil
		case <-scanRequests:
			log.Info("scan requested, starting cycle early")
		case <-time.After(interval):
		}
	}
}

// runCycle starts every session, waits for all of them to finish, and
// records a per-transport summary. A transport that fails to start (radio
// powered off, no multicast interface) is logged and skipped; the other
// transport still runs.
func runCycle(ctx context.Context, sessions []*discovery.Session, timeout time.Duration, influxClient *influxdb.Client, log *logging.Logger) {
	started := make([]*discovery.Session, 0, len(sessions))
	for _, session := range sessions {
		if err := session.Start(ctx, timeout); err != nil {
			log.Warn("transport unavailable this cycle",
				"transport", session.Transport().String(),
				"error", err,
			)
			continue
		}
		started = append(started, session)
	}

	begin := time.Now()
	for _, session := range started {
		session.Wait()

		peers := session.Reconciler().Len()
		log.Info("discovery session complete",
			"transport", session.Transport().String(),
			"peers", peers,
		)
		if influxClient != nil {
			influxClient.WriteSessionSummary(session.Transport().String(), peers, time.Since(begin))
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses NEARBYSCAN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NEARBYSCAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
