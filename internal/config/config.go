package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/lightslider/internal/light"
)

// DefaultFallbackColorTemp is the display color temperature (Kelvin) used
// when no targeted light reports an RGB color.
const DefaultFallbackColorTemp = 4000

// Config represents the application configuration
type Config struct {
	HomeAssistant   HomeAssistantConfig `yaml:"homeassistant"`
	Sliders         []SliderConfig      `yaml:"sliders"`
	Database        DatabaseConfig      `yaml:"database"`
	Log             LogConfig           `yaml:"log"`
	HTTP            HTTPConfig          `yaml:"http"`
	MQTT            MQTTConfig          `yaml:"mqtt"`
	Dispatch        DispatchConfig      `yaml:"dispatch"`
	Ledger          LedgerConfig        `yaml:"ledger"`
	EventBus        EventBusConfig      `yaml:"eventbus"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HomeAssistantConfig contains Home Assistant connection settings
type HomeAssistantConfig struct {
	URL     string   `yaml:"url"`   // e.g. http://homeassistant.local:8123
	Token   string   `yaml:"token"` // long-lived access token
	Timeout Duration `yaml:"timeout"`

	// Reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
}

// SliderConfig describes one slider and the lights it controls.
// Exactly one of Entity, Area or Light must be set.
type SliderConfig struct {
	Name   string `yaml:"name"`
	Title  string `yaml:"title"`
	Entity string `yaml:"entity"` // group entity id (plain lights also accepted)
	Area   string `yaml:"area"`   // area display name
	Light  string `yaml:"light"`  // single light entity id

	Mode               light.Mode `yaml:"mode"`
	TurnOnIfAboveZero  *bool      `yaml:"turn_on_if_above_zero"` // default: true
	OnlyAffectOnLights bool       `yaml:"only_affect_on_lights"`
	FallbackColorTemp  int        `yaml:"fallback_color_temp"` // Kelvin, used when no light reports RGB
}

// Target returns the tagged target variant selected by the configuration.
func (s SliderConfig) Target() light.Target {
	switch {
	case s.Entity != "":
		return light.GroupTarget{EntityID: s.Entity}
	case s.Area != "":
		return light.AreaTarget{Name: s.Area}
	case s.Light != "":
		return light.SingleTarget{EntityID: s.Light}
	}
	return nil
}

// Policy returns the command translation policy for this slider.
func (s SliderConfig) Policy() light.Policy {
	turnOn := true
	if s.TurnOnIfAboveZero != nil {
		turnOn = *s.TurnOnIfAboveZero
	}
	return light.Policy{
		Mode:               s.Mode,
		TurnOnIfOff:        turnOn,
		OnlyAffectOnLights: s.OnlyAffectOnLights,
	}
}

// GetTitle returns the display title with default
func (s SliderConfig) GetTitle() string {
	if s.Title != "" {
		return s.Title
	}
	if s.Mode == light.ModeRelative {
		return "Relative Brightness"
	}
	return "Room Brightness"
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// HTTPConfig contains API server settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port for the listener
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig contains MQTT exposure settings
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// DispatchConfig contains command dispatch settings
type DispatchConfig struct {
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
	CallTimeout  Duration `yaml:"call_timeout"` // per service call
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
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

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands environment variables, decodes YAML and applies defaults.
// It does not validate.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lightslider.sqlite"
	}

	// Home Assistant defaults
	if cfg.HomeAssistant.Timeout == 0 {
		cfg.HomeAssistant.Timeout = Duration(10 * time.Second)
	}
	if cfg.HomeAssistant.MinRetryBackoff == 0 {
		cfg.HomeAssistant.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.HomeAssistant.MaxRetryBackoff == 0 {
		cfg.HomeAssistant.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.HomeAssistant.RetryMultiplier == 0 {
		cfg.HomeAssistant.RetryMultiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// Slider defaults
	for i := range cfg.Sliders {
		s := &cfg.Sliders[i]
		if s.Mode == "" {
			s.Mode = light.ModeAbsolute
		}
		if s.FallbackColorTemp == 0 {
			s.FallbackColorTemp = DefaultFallbackColorTemp
		}
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lightslider"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lightslider"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}

	// Dispatch defaults
	if cfg.Dispatch.RateLimitRPS == 0 {
		cfg.Dispatch.RateLimitRPS = 20.0
	}
	if cfg.Dispatch.CallTimeout == 0 {
		cfg.Dispatch.CallTimeout = Duration(5 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Configuration errors
var (
	ErrNoTarget        = errors.New("define either 'entity', 'area' or 'light'")
	ErrAmbiguousTarget = errors.New("only one of 'entity', 'area' or 'light' may be set")
	ErrMissingName     = errors.New("slider name is required")
	ErrDuplicateSlider = errors.New("duplicate slider name")
	ErrInvalidMode     = errors.New("mode must be 'absolute' or 'relative'")
	ErrNoSliders       = errors.New("at least one slider must be configured")
	ErrMissingHAURL    = errors.New("homeassistant.url is required")
	ErrMissingBroker   = errors.New("mqtt.broker is required when mqtt is enabled")
)

// ValidationError reports which part of the configuration is invalid.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the configuration once at startup.
func (cfg *Config) Validate() error {
	if cfg.HomeAssistant.URL == "" {
		return &ValidationError{Field: "homeassistant.url", Err: ErrMissingHAURL}
	}
	if len(cfg.Sliders) == 0 {
		return &ValidationError{Field: "sliders", Err: ErrNoSliders}
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return &ValidationError{Field: "mqtt.broker", Err: ErrMissingBroker}
	}

	seen := make(map[string]bool, len(cfg.Sliders))
	for i, s := range cfg.Sliders {
		field := fmt.Sprintf("sliders[%d]", i)
		if s.Name != "" {
			field = fmt.Sprintf("sliders[%s]", s.Name)
		}
		if err := s.Validate(); err != nil {
			return &ValidationError{Field: field, Err: err}
		}
		if seen[s.Name] {
			return &ValidationError{Field: field, Err: ErrDuplicateSlider}
		}
		seen[s.Name] = true
	}
	return nil
}

// Validate checks a single slider definition.
func (s SliderConfig) Validate() error {
	if s.Name == "" {
		return ErrMissingName
	}

	set := 0
	for _, v := range []string{s.Entity, s.Area, s.Light} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return ErrNoTarget
	case set > 1:
		return ErrAmbiguousTarget
	}

	if !s.Mode.Valid() {
		return fmt.Errorf("%w, got %q", ErrInvalidMode, s.Mode)
	}
	return nil
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

// Retention returns how long ledger entries are kept
func (c LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
