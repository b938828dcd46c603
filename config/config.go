package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"iotc-device-client/application"

	"gopkg.in/yaml.v3"
)

// Config is the device configuration file. Identity fields may be left empty
// and supplied by command line flags instead.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Auth      AuthConfig      `yaml:"auth"`
	TLS       TLSConfig       `yaml:"tls"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	SyncCache SyncCacheConfig `yaml:"sync_cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type DeviceConfig struct {
	CPID string `yaml:"cpid"`
	Env  string `yaml:"env"`
	DUID string `yaml:"duid"`
	// CommandTopic overrides the subscribe topic returned by sync.
	CommandTopic string `yaml:"command_topic"`
}

type AuthConfig struct {
	Type         string `yaml:"type"`
	DeviceCert   string `yaml:"device_cert"`
	DeviceKey    string `yaml:"device_key"`
	SymmetricKey string `yaml:"symmetric_key"`
}

type TLSConfig struct {
	RootCAFile string `yaml:"root_ca_file"`
}

type DiscoveryConfig struct {
	Host string `yaml:"host"`
}

type HTTPConfig struct {
	ConnectAttempts      int           `yaml:"connect_attempts"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	Timeout              time.Duration `yaml:"timeout"`
}

type MQTTConfig struct {
	ConnectAttempts        int           `yaml:"connect_attempts"`
	ConnectRetryInterval   time.Duration `yaml:"connect_retry_interval"`
	SubscribeAttempts      int           `yaml:"subscribe_attempts"`
	SubscribeRetryInterval time.Duration `yaml:"subscribe_retry_interval"`
	KeepAlive              time.Duration `yaml:"keep_alive"`
	QoS                    int           `yaml:"qos"`
	ReconnectDelay         time.Duration `yaml:"reconnect_delay"`
}

// SyncCacheConfig enables the sync result cache when Path is set.
type SyncCacheConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			Type: "x509",
		},
		Discovery: DiscoveryConfig{
			Host: application.DefaultDiscoveryHost,
		},
		HTTP: HTTPConfig{
			ConnectAttempts:      5,
			ConnectRetryInterval: 2 * time.Second,
			Timeout:              10 * time.Second,
		},
		MQTT: MQTTConfig{
			ConnectAttempts:        application.DefaultConnectRetry.Attempts,
			ConnectRetryInterval:   application.DefaultConnectRetry.Interval,
			SubscribeAttempts:      application.DefaultSubscribeRetry.Attempts,
			SubscribeRetryInterval: application.DefaultSubscribeRetry.Interval,
			KeepAlive:              60 * time.Second,
			QoS:                    application.DefaultQoS,
			ReconnectDelay:         application.DefaultReconnectDelay,
		},
		SyncCache: SyncCacheConfig{
			TTL: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Interval: application.DefaultTelemetryInterval,
		},
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if _, err := application.ParseAuthType(c.Auth.Type); err != nil {
		errs = append(errs, fmt.Errorf("auth.type: %w", err))
	}
	if c.Auth.Type == "x509" && (c.Auth.DeviceCert == "" || c.Auth.DeviceKey == "") {
		errs = append(errs, errors.New("auth.device_cert and auth.device_key are required for x509"))
	}

	if c.TLS.RootCAFile == "" {
		errs = append(errs, errors.New("tls.root_ca_file is required"))
	}

	if c.HTTP.ConnectAttempts < 1 {
		errs = append(errs, errors.New("http.connect_attempts must be at least 1"))
	}
	if c.MQTT.ConnectAttempts < 1 {
		errs = append(errs, errors.New("mqtt.connect_attempts must be at least 1"))
	}
	if c.MQTT.SubscribeAttempts < 1 {
		errs = append(errs, errors.New("mqtt.subscribe_attempts must be at least 1"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry.interval must be positive"))
	}

	return errors.Join(errs...)
}

// AuthInfo converts the auth section. It assumes Validate passed.
func (c *Config) AuthInfo() application.AuthInfo {
	t, _ := application.ParseAuthType(c.Auth.Type)
	return application.AuthInfo{
		Type:         t,
		DeviceCert:   c.Auth.DeviceCert,
		DeviceKey:    c.Auth.DeviceKey,
		SymmetricKey: c.Auth.SymmetricKey,
	}
}
