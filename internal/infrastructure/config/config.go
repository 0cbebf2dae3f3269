package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Nearby Scan Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	History   HistoryConfig   `yaml:"history"`
}

// ServiceConfig identifies this scanner instance. The instance ID
// appears in MQTT topics and telemetry tags, so multiple scanners can
// share a broker and bucket.
type ServiceConfig struct {
	InstanceID string `yaml:"instance_id"`
	Name       string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for signal
// strength telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig contains per-transport discovery settings.
type DiscoveryConfig struct {
	// ScanTimeout bounds one discovery session, in seconds.
	ScanTimeout int `yaml:"scan_timeout"`

	// RescanInterval is the pause between sessions in daemon mode, in
	// seconds. Zero disables periodic rescanning: the process runs one
	// session and exits.
	RescanInterval int `yaml:"rescan_interval"`

	Radio   RadioConfig   `yaml:"radio"`
	Network NetworkConfig `yaml:"network"`
}

// RadioConfig contains Bluetooth scan settings.
type RadioConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NetworkConfig contains mDNS browse settings.
type NetworkConfig struct {
	Enabled bool `yaml:"enabled"`

	// Services is the list of DNS-SD service types to browse. Empty
	// uses a built-in household default set.
	Services []string `yaml:"services"`

	// Domain is the browse domain, normally "local.".
	Domain string `yaml:"domain"`

	// ResolveTimeout bounds per-peer resolution, in seconds.
	ResolveTimeout int `yaml:"resolve_timeout"`
}

// HistoryConfig contains registry view settings.
type HistoryConfig struct {
	// TextDebounce is the search text debounce window, in milliseconds.
	TextDebounce int `yaml:"text_debounce"`

	// Limit caps fetched rows; zero means unlimited.
	Limit int `yaml:"limit"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NEARBYSCAN_SECTION_KEY
// For example: NEARBYSCAN_DATABASE_PATH, NEARBYSCAN_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID: "scanner-001",
			Name:       "Nearby Scan",
		},
		Database: DatabaseConfig{
			Path:        "./data/nearbyscan.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nearbyscan-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			ScanTimeout: 15,
			Radio:       RadioConfig{Enabled: true},
			Network: NetworkConfig{
				Enabled:        true,
				Domain:         "local.",
				ResolveTimeout: 5,
			},
		},
		History: HistoryConfig{
			TextDebounce: 250,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NEARBYSCAN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("NEARBYSCAN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NEARBYSCAN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NEARBYSCAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NEARBYSCAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NEARBYSCAN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.InstanceID == "" {
		errs = append(errs, "service.instance_id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Discovery.ScanTimeout < 1 {
		errs = append(errs, "discovery.scan_timeout must be at least 1 second")
	}
	if c.Discovery.RescanInterval < 0 {
		errs = append(errs, "discovery.rescan_interval cannot be negative")
	}
	if !c.Discovery.Radio.Enabled && !c.Discovery.Network.Enabled {
		errs = append(errs, "at least one discovery transport must be enabled")
	}
	if c.Discovery.Network.Enabled && c.Discovery.Network.ResolveTimeout < 1 {
		errs = append(errs, "discovery.network.resolve_timeout must be at least 1 second")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set NEARBYSCAN_INFLUXDB_TOKEN)")
		}
	}

	if c.History.TextDebounce < 0 {
		errs = append(errs, "history.text_debounce cannot be negative")
	}
	if c.History.Limit < 0 {
		errs = append(errs, "history.limit cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetScanTimeout returns the per-session scan timeout as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Discovery.ScanTimeout) * time.Second
}

// GetRescanInterval returns the daemon-mode rescan interval as a Duration.
// Zero means single-shot operation.
func (c *Config) GetRescanInterval() time.Duration {
	return time.Duration(c.Discovery.RescanInterval) * time.Second
}

// GetResolveTimeout returns the per-peer network resolve timeout as a Duration.
func (c *Config) GetResolveTimeout() time.Duration {
	return time.Duration(c.Discovery.Network.ResolveTimeout) * time.Second
}

// GetTextDebounce returns the history search debounce as a Duration.
func (c *Config) GetTextDebounce() time.Duration {
	return time.Duration(c.History.TextDebounce) * time.Millisecond
}
