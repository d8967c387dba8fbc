package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SSH switch bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Device   DeviceConfig   `yaml:"device"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance.
	// Used in MQTT health topics and the LWT message.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DeviceConfig describes the single device controlled over SSH.
type DeviceConfig struct {
	// ID is the device identifier used in MQTT topics and history rows.
	ID string `yaml:"id"`

	// Name is a human-readable label. Default: "SSH".
	Name string `yaml:"name"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`

	// Password for SSH authentication.
	// WARNING: Never log this value. Use String() for safe logging.
	Password string `yaml:"password"`

	// PrivateKey is the base64-encoded RSA key blob pinned as the device's
	// host key. It is the only key the transport will accept.
	PrivateKey string `yaml:"private_key"`

	CommandOn     string `yaml:"command_on"`
	CommandOff    string `yaml:"command_off"`
	CommandStatus string `yaml:"command_status"`

	// ValueTemplate optionally transforms the raw status line.
	// Go text/template syntax with .Value and .ValueJSON available.
	ValueTemplate string `yaml:"value_template"`

	// OnStates lists the interpreted status values that mean "on".
	// Default: ["on"].
	OnStates []string `yaml:"on_states"`

	// PollIntervalSeconds is the minimum time between two status commands.
	// Default: 30 seconds.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// ScanIntervalSeconds is how often the bridge asks for a poll.
	// Polls inside the throttle window are served from cache.
	// Default: 10 seconds.
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`

	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`

	// StateMode selects how on/off commands update local state:
	// "optimistic" (set before the command runs) or "confirmed"
	// (set only after the command succeeds). Default: optimistic.
	StateMode string `yaml:"state_mode"`
}

// String returns a string representation with credentials masked.
func (d DeviceConfig) String() string {
	password := ""
	if d.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("DeviceConfig{ID:%q, Host:%q, Port:%d, Username:%q, Password:%s}",
		d.ID, d.Host, d.Port, d.Username, password)
}

// MarshalJSON implements json.Marshaler to redact the password in JSON output.
func (d DeviceConfig) MarshalJSON() ([]byte, error) {
	type redacted DeviceConfig
	safe := redacted(d)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the state_history table. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for API bearer tokens.
// An empty secret leaves the API unauthenticated (bind it to localhost).
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Default values applied before the YAML file is read.
const (
	DefaultSSHPort             = 22
	DefaultPollInterval        = 30
	DefaultScanInterval        = 10
	DefaultConnectTimeout      = 10
	DefaultCommandTimeout      = 10
	DefaultHealthInterval      = 30
	StateModeOptimistic        = "optimistic"
	StateModeConfirmed         = "confirmed"
	minJWTSecretLength         = 32
	defaultEnvFile             = ".env"
	defaultHistoryRetentionDay = 30
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file in the working directory, if present (never overrides real env vars)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: SSHSWITCH_SECTION_KEY
// For example: SSHSWITCH_DEVICE_PASSWORD, SSHSWITCH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadEnvFile(defaultEnvFile); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads KEY=VALUE pairs into the process environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "sshswitch",
			HealthInterval: DefaultHealthInterval,
		},
		Device: DeviceConfig{
			ID:                    "ssh-switch",
			Name:                  "SSH",
			Port:                  DefaultSSHPort,
			OnStates:              []string{"on"},
			PollIntervalSeconds:   DefaultPollInterval,
			ScanIntervalSeconds:   DefaultScanInterval,
			ConnectTimeoutSeconds: DefaultConnectTimeout,
			CommandTimeoutSeconds: DefaultCommandTimeout,
			StateMode:             StateModeOptimistic,
		},
		Database: DatabaseConfig{
			Path:                 "./data/sshswitch.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: defaultHistoryRetentionDay,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sshswitch",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SSHSWITCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("SSHSWITCH_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("SSHSWITCH_DEVICE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Device.Port = port
		}
	}
	if v := os.Getenv("SSHSWITCH_DEVICE_USERNAME"); v != "" {
		cfg.Device.Username = v
	}
	if v := os.Getenv("SSHSWITCH_DEVICE_PASSWORD"); v != "" {
		cfg.Device.Password = v
	}
	if v := os.Getenv("SSHSWITCH_DEVICE_PRIVATE_KEY"); v != "" {
		cfg.Device.PrivateKey = v
	}

	// Database
	if v := os.Getenv("SSHSWITCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SSHSWITCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SSHSWITCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SSHSWITCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SSHSWITCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SSHSWITCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("SSHSWITCH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	errs = append(errs, c.Device.validate()...)

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks the device section and returns every problem found.
func (d DeviceConfig) validate() []string {
	var errs []string

	required := []struct {
		field string
		value string
	}{
		{"device.host", d.Host},
		{"device.username", d.Username},
		{"device.password", d.Password},
		{"device.private_key", d.PrivateKey},
		{"device.command_on", d.CommandOn},
		{"device.command_off", d.CommandOff},
		{"device.command_status", d.CommandStatus},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, r.field+" is required")
		}
	}

	if d.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if d.PollIntervalSeconds < 0 {
		errs = append(errs, "device.poll_interval_seconds must not be negative")
	}
	if d.ScanIntervalSeconds < 0 {
		errs = append(errs, "device.scan_interval_seconds must not be negative")
	}

	switch d.StateMode {
	case "", StateModeOptimistic, StateModeConfirmed:
	default:
		errs = append(errs, fmt.Sprintf("device.state_mode must be %q or %q", StateModeOptimistic, StateModeConfirmed))
	}

	return errs
}

// PollInterval returns the status throttle window as a Duration.
func (d DeviceConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// ScanInterval returns the poll schedule as a Duration.
func (d DeviceConfig) ScanInterval() time.Duration {
	return time.Duration(d.ScanIntervalSeconds) * time.Second
}

// ConnectTimeout returns the SSH connect timeout as a Duration.
func (d DeviceConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the SSH command timeout as a Duration.
func (d DeviceConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutSeconds) * time.Second
}

// HistoryRetention returns how long state history rows are kept.
// Zero means history is never pruned.
func (d DatabaseConfig) HistoryRetention() time.Duration {
	return time.Duration(d.HistoryRetentionDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}
