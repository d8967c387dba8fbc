package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validDeviceYAML = `
device:
  id: "garage-pi"
  host: "192.168.1.50"
  username: "pi"
  password: "raspberry"
  private_key: "AAAAB3NzaC1yc2EAAAADAQABAAABAQ=="
  command_on: "gpio write 0 1"
  command_off: "gpio write 0 0"
  command_status: "gpio read 0"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func validDevice() DeviceConfig {
	d := defaultConfig().Device
	d.Host = "192.168.1.50"
	d.Username = "pi"
	d.Password = "raspberry"
	d.PrivateKey = "AAAAB3NzaC1yc2EAAAADAQABAAABAQ=="
	d.CommandOn = "on"
	d.CommandOff = "off"
	d.CommandStatus = "status"
	return d
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, validDeviceYAML+`
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "garage-pi" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "garage-pi")
	}
	if cfg.Device.Port != DefaultSSHPort {
		t.Errorf("Device.Port = %d, want default %d", cfg.Device.Port, DefaultSSHPort)
	}
	if cfg.Device.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval() = %v, want 30s", cfg.Device.PollInterval())
	}
	if cfg.Device.StateMode != StateModeOptimistic {
		t.Errorf("StateMode = %q, want %q", cfg.Device.StateMode, StateModeOptimistic)
	}
	if len(cfg.Device.OnStates) != 1 || cfg.Device.OnStates[0] != "on" {
		t.Errorf("OnStates = %v, want [on]", cfg.Device.OnStates)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingDeviceFields(t *testing.T) {
	configPath := writeConfig(t, `
device:
  host: "192.168.1.50"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, field := range []string{"device.username", "device.password", "device.private_key", "device.command_status"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestLoad_PasswordFromEnv(t *testing.T) {
	configPath := writeConfig(t, strings.Replace(validDeviceYAML, `  password: "raspberry"`+"\n", "", 1))
	t.Setenv("SSHSWITCH_DEVICE_PASSWORD", "from-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Password != "from-env" {
		t.Errorf("Device.Password = %q, want %q", cfg.Device.Password, "from-env")
	}
}

func TestConfig_Validate(t *testing.T) {
	validSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(_ *Config) {}},
		{name: "missing bridge ID", mutate: func(c *Config) { c.Bridge.ID = "" }, wantErr: true},
		{name: "missing host", mutate: func(c *Config) { c.Device.Host = "" }, wantErr: true},
		{name: "blank status command", mutate: func(c *Config) { c.Device.CommandStatus = "   " }, wantErr: true},
		{name: "device port too high", mutate: func(c *Config) { c.Device.Port = 70000 }, wantErr: true},
		{name: "negative poll interval", mutate: func(c *Config) { c.Device.PollIntervalSeconds = -1 }, wantErr: true},
		{name: "unknown state mode", mutate: func(c *Config) { c.Device.StateMode = "eventual" }, wantErr: true},
		{name: "confirmed state mode", mutate: func(c *Config) { c.Device.StateMode = StateModeConfirmed }},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid API port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "API disabled ignores port", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "JWT secret valid", mutate: func(c *Config) { c.Security.JWT.Secret = validSecret }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Device = validDevice()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Bridge: BridgeConfig{HealthInterval: 15},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetHealthInterval().Seconds(); got != 15 {
		t.Errorf("GetHealthInterval() = %v, want 15", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SSHSWITCH_DEVICE_HOST", "10.0.0.9")
	t.Setenv("SSHSWITCH_DEVICE_PORT", "2222")
	t.Setenv("SSHSWITCH_DEVICE_USERNAME", "admin")
	t.Setenv("SSHSWITCH_DEVICE_PRIVATE_KEY", "a2V5")
	t.Setenv("SSHSWITCH_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SSHSWITCH_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SSHSWITCH_MQTT_PASSWORD", "testpass")
	t.Setenv("SSHSWITCH_API_HOST", "0.0.0.0")
	t.Setenv("SSHSWITCH_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SSHSWITCH_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Device.Host", cfg.Device.Host, "10.0.0.9"},
		{"Device.Username", cfg.Device.Username, "admin"},
		{"Device.PrivateKey", cfg.Device.PrivateKey, "a2V5"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "0.0.0.0"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.Device.Port != 2222 {
		t.Errorf("Device.Port = %d, want 2222", cfg.Device.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SSHSWITCH_DEVICE_PORT", "twenty-two")

	applyEnvOverrides(cfg)

	if cfg.Device.Port != DefaultSSHPort {
		t.Errorf("Device.Port = %d, want %d", cfg.Device.Port, DefaultSSHPort)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Device.Port != 22 {
		t.Errorf("defaultConfig Device.Port = %d, want 22", cfg.Device.Port)
	}
	if cfg.Device.PollIntervalSeconds != 30 {
		t.Errorf("defaultConfig Device.PollIntervalSeconds = %d, want 30", cfg.Device.PollIntervalSeconds)
	}
	if cfg.Device.ConnectTimeout() != 10*time.Second {
		t.Errorf("defaultConfig ConnectTimeout() = %v, want 10s", cfg.Device.ConnectTimeout())
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Database.HistoryRetention() != 30*24*time.Hour {
		t.Errorf("defaultConfig HistoryRetention() = %v, want 720h", cfg.Database.HistoryRetention())
	}
}

func TestDeviceConfig_RedactsPassword(t *testing.T) {
	d := validDevice()

	if strings.Contains(d.String(), "raspberry") {
		t.Errorf("String() leaks password: %s", d.String())
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "raspberry") {
		t.Errorf("MarshalJSON() leaks password: %s", data)
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Errorf("MarshalJSON() = %s, want [REDACTED] marker", data)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("loadEnvFile(missing) error = %v, want nil", err)
	}

	envPath := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envPath, []byte("SSHSWITCH_TEST_ENVFILE=loaded\n"), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("SSHSWITCH_TEST_ENVFILE") })

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("loadEnvFile() error = %v", err)
	}
	if got := os.Getenv("SSHSWITCH_TEST_ENVFILE"); got != "loaded" {
		t.Errorf("SSHSWITCH_TEST_ENVFILE = %q, want %q", got, "loaded")
	}
}
