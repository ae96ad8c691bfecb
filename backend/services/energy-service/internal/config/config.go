package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "energymon/backend/libs/config"
)

// Config defines energy service configuration.
type Config struct {
	HTTP struct {
		Port                   string `yaml:"port" env:"ENERGY_HTTP_PORT"`
		ShutdownTimeoutSeconds int    `yaml:"shutdownTimeoutSeconds" env:"ENERGY_HTTP_SHUTDOWN_TIMEOUT"`
	} `yaml:"http"`
	Storage struct {
		Driver        string `yaml:"driver" env:"ENERGY_STORAGE_DRIVER"`
		Path          string `yaml:"path" env:"ENERGY_SQLITE_PATH"`
		DSN           string `yaml:"dsn" env:"ENERGY_POSTGRES_DSN"`
		BusyTimeoutMs int    `yaml:"busyTimeoutMs" env:"ENERGY_SQLITE_BUSY_TIMEOUT_MS"`
	} `yaml:"storage"`
	MQTT struct {
		Enabled          bool   `yaml:"enabled" env:"ENERGY_MQTT_ENABLED"`
		Broker           string `yaml:"broker" env:"ENERGY_MQTT_BROKER"`
		Topic            string `yaml:"topic" env:"ENERGY_MQTT_TOPIC"`
		ClientIDPrefix   string `yaml:"clientIdPrefix" env:"ENERGY_MQTT_CLIENT_ID_PREFIX"`
		Username         string `yaml:"username" env:"ENERGY_MQTT_USERNAME"`
		Password         string `yaml:"password" env:"ENERGY_MQTT_PASSWORD"`
		KeepAliveSeconds int    `yaml:"keepAliveSeconds" env:"ENERGY_MQTT_KEEPALIVE"`
		QoS              int    `yaml:"qos" env:"ENERGY_MQTT_QOS"`
	} `yaml:"mqtt"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"ENERGY_JWT_SECRET"`
		Disabled  bool   `yaml:"disabled" env:"ENERGY_AUTH_DISABLED"`
	} `yaml:"auth"`
	Redis struct {
		Addr       string `yaml:"addr" env:"ENERGY_REDIS_ADDR"`
		Password   string `yaml:"password" env:"ENERGY_REDIS_PASSWORD"`
		Key        string `yaml:"key" env:"ENERGY_REDIS_KEY"`
		Channel    string `yaml:"channel" env:"ENERGY_REDIS_CHANNEL"`
		TTLSeconds int    `yaml:"ttlSeconds" env:"ENERGY_REDIS_TTL"`
	} `yaml:"redis"`
	Query struct {
		HistoryDefault     int `yaml:"historyDefault" env:"ENERGY_HISTORY_DEFAULT"`
		HistoryMax         int `yaml:"historyMax" env:"ENERGY_HISTORY_MAX"`
		StaleAfterSeconds  int `yaml:"staleAfterSeconds" env:"ENERGY_STALE_AFTER_SECONDS"`
		DisplayOffsetHours int `yaml:"displayOffsetHours" env:"ENERGY_DISPLAY_OFFSET_HOURS"`
	} `yaml:"query"`
	Stream struct {
		IntervalMs int `yaml:"intervalMs" env:"ENERGY_STREAM_INTERVAL_MS"`
	} `yaml:"stream"`
}

// Default returns configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "5000"
	cfg.HTTP.ShutdownTimeoutSeconds = 10
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = "readings.db"
	cfg.Storage.BusyTimeoutMs = 5000
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "broker.mqttdashboard.com:1883"
	cfg.MQTT.Topic = "cotto/energy/main"
	cfg.MQTT.ClientIDPrefix = "energy-service"
	cfg.MQTT.KeepAliveSeconds = 60
	cfg.Redis.Key = "energy:latest"
	cfg.Redis.Channel = "energy:readings"
	cfg.Redis.TTLSeconds = 60
	cfg.Query.HistoryDefault = 100
	cfg.Query.HistoryMax = 5000
	cfg.Query.StaleAfterSeconds = 8
	cfg.Query.DisplayOffsetHours = 7
	cfg.Stream.IntervalMs = 1000
	return cfg
}

// Load configuration using shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("config: storage path required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("config: storage dsn required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.Broker) == "" || strings.TrimSpace(c.MQTT.Topic) == "" {
			return errors.New("config: mqtt broker and topic required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("config: mqtt qos %d out of range", c.MQTT.QoS)
		}
	}

	if !c.Auth.Disabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret required unless auth is disabled")
	}

	if c.Query.HistoryMax <= 0 || c.Query.HistoryDefault <= 0 {
		return errors.New("config: history sizes must be positive")
	}
	if c.Query.StaleAfterSeconds <= 0 {
		return errors.New("config: staleAfterSeconds must be positive")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "5000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ShutdownTimeout bounds how long in-flight requests may drain on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.HTTP.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HTTP.ShutdownTimeoutSeconds) * time.Second
}

// StorageDriver returns the normalized driver name.
func (c *Config) StorageDriver() string {
	return strings.ToLower(strings.TrimSpace(c.Storage.Driver))
}

// BusyTimeout returns the sqlite lock wait.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// MQTTKeepAlive returns the keep-alive in seconds, clamped to the protocol's uint16 range.
func (c *Config) MQTTKeepAlive() uint16 {
	switch {
	case c.MQTT.KeepAliveSeconds <= 0:
		return 60
	case c.MQTT.KeepAliveSeconds > 65535:
		return 65535
	default:
		return uint16(c.MQTT.KeepAliveSeconds)
	}
}

// RedisTTL returns how long the mirrored latest reading lives.
func (c *Config) RedisTTL() time.Duration {
	if c.Redis.TTLSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// StaleAfter returns the freshness threshold of the realtime view.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Query.StaleAfterSeconds) * time.Second
}

// DisplayOffset returns the fixed dashboard clock offset.
func (c *Config) DisplayOffset() time.Duration {
	return time.Duration(c.Query.DisplayOffsetHours) * time.Hour
}

// StreamInterval returns how often the realtime stream pushes.
func (c *Config) StreamInterval() time.Duration {
	if c.Stream.IntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Stream.IntervalMs) * time.Millisecond
}
