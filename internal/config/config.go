package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig           `yaml:"log"`
	Database        DatabaseConfig      `yaml:"database"`
	Rooms           []RoomConfig        `yaml:"rooms"`
	Calendar        CalendarConfig      `yaml:"calendar"`
	Device          DeviceConfig        `yaml:"device"`
	Notifications   NotificationsConfig `yaml:"notifications"`
	Webhook         WebhookConfig       `yaml:"webhook"`
	Reconciler      ReconcilerConfig    `yaml:"reconciler"`
	Ledger          LedgerConfig        `yaml:"ledger"`
	Healthcheck     HealthcheckConfig   `yaml:"healthcheck"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// RoomConfig binds a room (device thing name) to its calendar
type RoomConfig struct {
	Name       string `yaml:"name"`
	CalendarID string `yaml:"calendar_id"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CalendarConfig contains Google Calendar settings
type CalendarConfig struct {
	CredentialsFile string   `yaml:"credentials_file"` // Service account JSON; empty = application default credentials
	MaxResults      int64    `yaml:"max_results"`
	Timeout         Duration `yaml:"timeout"`
	RetryAttempts   int      `yaml:"retry_attempts"`
	RetryDelay      Duration `yaml:"retry_delay"`
}

// DeviceConfig contains IoT cloud (device registry) settings
type DeviceConfig struct {
	Host           string   `yaml:"host"`
	TokenURL       string   `yaml:"token_url"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	OrganizationID string   `yaml:"organization_id"`
	Timeout        Duration `yaml:"timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"` // Requests per second towards the IoT API
	RetryAttempts  int      `yaml:"retry_attempts"`
	RetryDelay     Duration `yaml:"retry_delay"`
}

// Notification drivers
const (
	DriverLocal = "local"
	DriverRedis = "redis"
)

// NotificationsConfig selects the transport carrying calendar change messages
type NotificationsConfig struct {
	Driver string      `yaml:"driver"` // local | redis
	Redis  RedisConfig `yaml:"redis"`

	// Resubscribe settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"`
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"`
	RetryMultiplier float64  `yaml:"retry_multiplier"`

	// Local bus settings
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// RedisConfig contains Redis pub/sub settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// WebhookConfig contains the calendar push/meeting HTTP server settings
type WebhookConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"` // Externally reachable base URL used to register calendar watches
	Secret    string `yaml:"secret"`     // Channel token and bearer secret for meeting requests
}

// ReconcilerConfig contains reconciliation loop settings
type ReconcilerConfig struct {
	SettleDelay  Duration `yaml:"settle_delay"`  // Wait after a write before verifying
	MaxAttempts  int      `yaml:"max_attempts"`  // Total write attempts per round
	ErrorBackoff Duration `yaml:"error_backoff"` // Pause after a failed pass
	ResyncMinute int      `yaml:"resync_minute"` // Minute of the hour when calendars are re-downloaded
	TickSchedule string   `yaml:"tick_schedule"` // Cron expression of the periodic tick
	Timezone     string   `yaml:"timezone"`
}

// LedgerConfig contains reconciliation ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RetentionPeriod returns the retention as a duration
func (c *LedgerConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration data, expands environment variables and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./roomd.sqlite"
	}

	// Calendar defaults
	if cfg.Calendar.MaxResults == 0 {
		cfg.Calendar.MaxResults = 10
	}
	if cfg.Calendar.Timeout == 0 {
		cfg.Calendar.Timeout = Duration(30 * time.Second)
	}
	if cfg.Calendar.RetryAttempts == 0 {
		cfg.Calendar.RetryAttempts = 3
	}
	if cfg.Calendar.RetryDelay == 0 {
		cfg.Calendar.RetryDelay = Duration(1 * time.Second)
	}

	// Device defaults
	if cfg.Device.Host == "" {
		cfg.Device.Host = "https://api2.arduino.cc/iot"
	}
	if cfg.Device.TokenURL == "" {
		cfg.Device.TokenURL = strings.TrimSuffix(cfg.Device.Host, "/") + "/v1/clients/token"
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = Duration(30 * time.Second)
	}
	if cfg.Device.RateLimitRPS == 0 {
		cfg.Device.RateLimitRPS = 1.0 / 3.0 // one request every 3s avoids the API rate limit
	}
	if cfg.Device.RetryAttempts == 0 {
		cfg.Device.RetryAttempts = 3
	}
	if cfg.Device.RetryDelay == 0 {
		cfg.Device.RetryDelay = Duration(3 * time.Second)
	}

	// Notification defaults
	if cfg.Notifications.Driver == "" {
		cfg.Notifications.Driver = DriverLocal
	}
	if cfg.Notifications.Redis.Addr == "" {
		cfg.Notifications.Redis.Addr = "localhost:6379"
	}
	if cfg.Notifications.Redis.Channel == "" {
		cfg.Notifications.Redis.Channel = "roomcalendar_events"
	}
	if cfg.Notifications.MinRetryBackoff == 0 {
		cfg.Notifications.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Notifications.MaxRetryBackoff == 0 {
		cfg.Notifications.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Notifications.RetryMultiplier == 0 {
		cfg.Notifications.RetryMultiplier = 2.0
	}
	if cfg.Notifications.Workers <= 0 {
		cfg.Notifications.Workers = 2
	}
	if cfg.Notifications.QueueSize <= 0 {
		cfg.Notifications.QueueSize = 100
	}

	// Webhook defaults
	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8080
	}

	// Reconciler defaults
	if cfg.Reconciler.SettleDelay == 0 {
		cfg.Reconciler.SettleDelay = Duration(5 * time.Second)
	}
	if cfg.Reconciler.MaxAttempts == 0 {
		cfg.Reconciler.MaxAttempts = 3
	}
	if cfg.Reconciler.ErrorBackoff == 0 {
		cfg.Reconciler.ErrorBackoff = Duration(60 * time.Second)
	}
	if cfg.Reconciler.ResyncMinute == 0 {
		cfg.Reconciler.ResyncMinute = 55
	}
	if cfg.Reconciler.TickSchedule == "" {
		cfg.Reconciler.TickSchedule = "* * * * *"
	}
	if cfg.Reconciler.Timezone == "" {
		cfg.Reconciler.Timezone = "UTC"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for values the daemon cannot run without
func (cfg *Config) Validate() error {
	var errs []error

	if len(cfg.Rooms) == 0 {
		errs = append(errs, errors.New("rooms: at least one room is required"))
	}
	seen := make(map[string]bool)
	for i, room := range cfg.Rooms {
		if room.Name == "" {
			errs = append(errs, fmt.Errorf("rooms[%d]: name is required", i))
			continue
		}
		if seen[room.Name] {
			errs = append(errs, fmt.Errorf("rooms[%d]: duplicate room %q", i, room.Name))
		}
		seen[room.Name] = true
		if room.CalendarID == "" {
			errs = append(errs, fmt.Errorf("rooms[%d]: calendar_id is required for %q", i, room.Name))
		}
	}

	switch cfg.Notifications.Driver {
	case DriverLocal, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("notifications.driver: unknown driver %q", cfg.Notifications.Driver))
	}

	if cfg.Reconciler.ResyncMinute < 0 || cfg.Reconciler.ResyncMinute > 59 {
		errs = append(errs, fmt.Errorf("reconciler.resync_minute: %d is not a minute", cfg.Reconciler.ResyncMinute))
	}
	if cfg.Reconciler.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconciler.max_attempts: must be positive"))
	}
	if _, err := time.LoadLocation(cfg.Reconciler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("reconciler.timezone: %w", err))
	}
	if cfg.Ledger.CleanupInterval <= 0 {
		errs = append(errs, errors.New("ledger.cleanup_interval: must be positive"))
	}

	return errors.Join(errs...)
}

// Room returns the configured room by name
func (cfg *Config) Room(name string) (RoomConfig, bool) {
	for _, r := range cfg.Rooms {
		if r.Name == name {
			return r, true
		}
	}
	return RoomConfig{}, false
}

// Location returns the reconciler timezone, falling back to UTC for configs
// that skipped Validate
func (c *ReconcilerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetShutdownTimeout returns the shutdown timeout as a duration
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
