package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/micro-ha/hive-bridge/internal/logging"
	"github.com/micro-ha/hive-bridge/internal/model"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = ":8099"
	defaultDBPath          = "/data/hive_bridge.db"
	defaultIdentityURL     = "https://cognito-idp.eu-west-1.amazonaws.com/"
	defaultAPIURL          = "https://beekeeper-uk.hivehome.com/1.0"
	defaultRequestTimeout  = 10 * time.Second
	defaultFreshnessWindow = 72 * time.Hour
	defaultDeviceName      = "Home Assistant"
	defaultMQTTPrefix      = "hive"
	defaultMQTTClientID    = "hive-bridge"
	defaultInfluxBucket    = "hive"
)

// Config stores runtime settings loaded from an optional YAML file and environment variables.
type Config struct {
	HTTPAddr  string        `yaml:"http_addr"`
	DBPath    string        `yaml:"db_path"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Hive      HiveConfig    `yaml:"hive"`
	Session   SessionConfig `yaml:"session"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	InfluxDB  InfluxConfig  `yaml:"influxdb"`
}

// HiveConfig describes the vendor identity provider and device API.
type HiveConfig struct {
	IdentityURL    string        `yaml:"identity_url"`
	UserPoolID     string        `yaml:"user_pool_id"`
	ClientID       string        `yaml:"client_id"`
	APIURL         string        `yaml:"api_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// Username and Password seed the credential store on first start.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SessionConfig tunes polling and token reuse.
type SessionConfig struct {
	ScanInterval    time.Duration `yaml:"scan_interval"`
	MinScanInterval time.Duration `yaml:"min_scan_interval"`
	FreshnessWindow time.Duration `yaml:"token_freshness_window"`
	DeviceName      string        `yaml:"device_name"`
}

// MQTTConfig enables the optional state publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// InfluxConfig enables the optional telemetry writer.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Load builds Config from defaults, the YAML file at path (optional) and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:  defaultHTTPAddr,
		DBPath:    defaultDBPath,
		LogLevel:  "info",
		LogFormat: "json",
		Hive: HiveConfig{
			IdentityURL:    defaultIdentityURL,
			APIURL:         defaultAPIURL,
			RequestTimeout: defaultRequestTimeout,
		},
		Session: SessionConfig{
			ScanInterval:    model.DefaultScanInterval,
			MinScanInterval: model.MinScanInterval,
			FreshnessWindow: defaultFreshnessWindow,
			DeviceName:      defaultDeviceName,
		},
		MQTT: MQTTConfig{
			ClientID:    defaultMQTTClientID,
			TopicPrefix: defaultMQTTPrefix,
		},
		InfluxDB: InfluxConfig{Bucket: defaultInfluxBucket},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []string
	if c.HTTPAddr == "" {
		errs = append(errs, "http_addr is required")
	}
	if c.DBPath == "" {
		errs = append(errs, "db_path is required")
	}
	if c.Hive.IdentityURL == "" {
		errs = append(errs, "hive.identity_url is required")
	}
	if c.Hive.UserPoolID == "" {
		errs = append(errs, "hive.user_pool_id is required")
	} else if !strings.Contains(c.Hive.UserPoolID, "_") {
		errs = append(errs, "hive.user_pool_id must look like <region>_<id>")
	}
	if c.Hive.ClientID == "" {
		errs = append(errs, "hive.client_id is required")
	}
	if c.Hive.APIURL == "" {
		errs = append(errs, "hive.api_url is required")
	}
	if c.Hive.RequestTimeout <= 0 {
		errs = append(errs, "hive.request_timeout must be positive")
	}
	if c.Session.MinScanInterval <= 0 {
		errs = append(errs, "session.min_scan_interval must be positive")
	}
	if c.Session.FreshnessWindow < 0 {
		errs = append(errs, "session.token_freshness_window must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb url, org and bucket are required when influxdb is enabled")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return logging.ParseLevel(c.LogLevel)
}

// ScanInterval returns the default poll period clamped to the configured floor.
func (c Config) ScanInterval() time.Duration {
	return model.ClampInterval(c.Session.ScanInterval, c.Session.MinScanInterval)
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func applyEnvOverrides(cfg *Config) {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)

	cfg.Hive.IdentityURL = getenv("HIVE_IDENTITY_URL", cfg.Hive.IdentityURL)
	cfg.Hive.UserPoolID = getenv("HIVE_USER_POOL_ID", cfg.Hive.UserPoolID)
	cfg.Hive.ClientID = getenv("HIVE_CLIENT_ID", cfg.Hive.ClientID)
	cfg.Hive.APIURL = getenv("HIVE_API_URL", cfg.Hive.APIURL)
	cfg.Hive.RequestTimeout = parseDuration("HIVE_REQUEST_TIMEOUT", cfg.Hive.RequestTimeout)
	cfg.Hive.Username = getenv("HIVE_USERNAME", cfg.Hive.Username)
	cfg.Hive.Password = getenv("HIVE_PASSWORD", cfg.Hive.Password)

	cfg.Session.ScanInterval = parseDuration("SCAN_INTERVAL", cfg.Session.ScanInterval)
	cfg.Session.MinScanInterval = parseDuration("MIN_SCAN_INTERVAL", cfg.Session.MinScanInterval)
	cfg.Session.FreshnessWindow = parseDuration("TOKEN_FRESHNESS_WINDOW", cfg.Session.FreshnessWindow)
	cfg.Session.DeviceName = getenv("DEVICE_NAME", cfg.Session.DeviceName)

	cfg.MQTT.Enabled = parseBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getenv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getenv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenv("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicPrefix = getenv("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	cfg.InfluxDB.Enabled = parseBool("INFLUX_ENABLED", cfg.InfluxDB.Enabled)
	cfg.InfluxDB.URL = getenv("INFLUX_URL", cfg.InfluxDB.URL)
	cfg.InfluxDB.Token = getenv("INFLUX_TOKEN", cfg.InfluxDB.Token)
	cfg.InfluxDB.Org = getenv("INFLUX_ORG", cfg.InfluxDB.Org)
	cfg.InfluxDB.Bucket = getenv("INFLUX_BUCKET", cfg.InfluxDB.Bucket)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}
