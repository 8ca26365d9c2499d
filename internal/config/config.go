package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the watcher daemon.
type Config struct {
	// BindAddress is the host:port the notification server listens on.
	BindAddress string `yaml:"bind_addr"`
	// CallbackURL optionally overrides the advertised callback base address.
	// When empty it is derived from BindAddress (and the first usable
	// non-loopback interface when the bind host is a wildcard).
	CallbackURL string `yaml:"callback_url,omitempty"`
	// LeaseSeconds is the subscription lease requested from each camera.
	LeaseSeconds int `yaml:"lease_seconds"`
	// RenewMarginSeconds is the early margin subtracted from the lease to
	// decide when renewal must occur.
	RenewMarginSeconds int `yaml:"renew_margin_seconds"`
	// TopicFilter selects which event categories subscriptions receive.
	TopicFilter string `yaml:"topic_filter"`
	// Script is an optional path to an external program invoked as
	// `script (On|Off) name path cause` instead of the trigger API.
	Script string `yaml:"script,omitempty"`
	// Timeout bounds individual remote calls (camera and platform).
	Timeout time.Duration `yaml:"timeout"`
	// ClosePollInterval is the interval between alarm-clear polls in the
	// close path.
	ClosePollInterval time.Duration `yaml:"close_poll_interval"`
	// CloseWaitTimeout bounds the wait for the platform to confirm an alarm
	// close before the cancel action is forced.
	CloseWaitTimeout time.Duration `yaml:"close_wait_timeout"`
	// RenewRetries is how many times a failed renew is retried (with
	// backoff) before the subscription is considered lost.
	RenewRetries int `yaml:"renew_retries"`
	// FatalOnRenewFailure restores the legacy behavior of terminating the
	// daemon when a renew ultimately fails, forcing a clean restart instead
	// of running with a stale subscription.
	FatalOnRenewFailure bool `yaml:"fatal_on_renew_failure"`
	// ZoneMinder configures the surveillance platform endpoints.
	ZoneMinder ZoneMinderConfig `yaml:"zoneminder"`
	// MQTT optionally mirrors motion state to an MQTT broker.
	MQTT *MQTTConfig `yaml:"mqtt,omitempty"`
	// Monitors is the set of cameras eligible for event watching.
	Monitors []MonitorConfig `yaml:"monitors"`
}

// ZoneMinderConfig holds the trigger channel and API endpoints of the platform.
type ZoneMinderConfig struct {
	// TriggerAddress is the host:port of the zmtrigger command channel.
	TriggerAddress string `yaml:"trigger_addr"`
	// APIURL is the base URL of the ZoneMinder JSON API, e.g.
	// http://zm.local/zm/api.
	APIURL string `yaml:"api_url"`
	// User and Password authenticate against the API when set.
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// MQTTConfig holds optional MQTT mirror settings.
type MQTTConfig struct {
	// Broker is the host:port of the MQTT broker.
	Broker string `yaml:"broker"`
	// ClientID identifies this daemon to the broker.
	ClientID string `yaml:"client_id"`
	// TopicPrefix is prepended to per-monitor motion topics.
	TopicPrefix string `yaml:"topic_prefix"`
	// Username and Password authenticate against the broker when set.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// MonitorConfig describes one camera/monitor pairing.
type MonitorConfig struct {
	// ID is the platform monitor id; it doubles as the reference id in
	// callback paths.
	ID int `yaml:"id"`
	// Name is the monitor's display name.
	Name string `yaml:"name"`
	// Path is the monitor's storage path.
	Path string `yaml:"path,omitempty"`
	// EventURL is the camera's ONVIF event-service endpoint. Monitors
	// without one are excluded from the active set.
	EventURL string `yaml:"event_url"`
	// CaptureMode is the platform capture function; only trigger-capable
	// modes participate.
	CaptureMode string `yaml:"capture_mode"`
	// Showtext is optional overlay text forwarded with alarm transitions.
	Showtext string `yaml:"showtext,omitempty"`
}

const (
	// DefaultConfigFilename is the default settings file name.
	DefaultConfigFilename = "zmonvif-trigger.yaml"

	// DefaultLeaseSeconds is the default subscription lease.
	DefaultLeaseSeconds = 600

	// DefaultRenewMarginSeconds is the default early renewal margin.
	DefaultRenewMarginSeconds = 30

	// DefaultTopicFilter selects motion rule events.
	DefaultTopicFilter = "tns1:RuleEngine/CellMotionDetector/Motion"

	// DefaultTimeout is the default duration for remote calls.
	DefaultTimeout = 5 * time.Second

	// DefaultClosePollInterval is the default alarm-clear polling interval.
	DefaultClosePollInterval = 200 * time.Millisecond

	// DefaultCloseWaitTimeout is the default bound on the close-path wait.
	DefaultCloseWaitTimeout = 30 * time.Second

	// DefaultRenewRetries is the default renew retry budget.
	DefaultRenewRetries = 3

	// DefaultTriggerAddress is zmtrigger's default listen socket.
	DefaultTriggerAddress = "127.0.0.1:6802"

	// DefaultBindAddress is the default notification server socket.
	DefaultBindAddress = ":8089"

	// DefaultFilePermissions is the file mode used when saving settings.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNoTriggerTarget is returned when neither a script nor a platform
	// endpoint is configured.
	errNoTriggerTarget = errors.New("either script or zoneminder endpoints must be configured")
	// errLeaseTooShort is returned when the lease does not leave room for
	// the early renewal margin.
	errLeaseTooShort = errors.New("lease_seconds must exceed renew_margin_seconds")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions; the file may carry platform credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields, applies defaults, and verifies formats.
//
//nolint:cyclop // The checks are a flat sequence; splitting would not help.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.BindAddress); err != nil {
		return fmt.Errorf("invalid bind address: %w", err)
	}

	if cfg.CallbackURL != "" {
		if _, err := url.ParseRequestURI(cfg.CallbackURL); err != nil {
			return fmt.Errorf("invalid callback URL: %w", err)
		}
	}

	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = DefaultLeaseSeconds
	}

	if cfg.RenewMarginSeconds <= 0 {
		cfg.RenewMarginSeconds = DefaultRenewMarginSeconds
	}

	if cfg.LeaseSeconds <= cfg.RenewMarginSeconds {
		return errLeaseTooShort
	}

	if cfg.TopicFilter == "" {
		cfg.TopicFilter = DefaultTopicFilter
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.ClosePollInterval <= 0 {
		cfg.ClosePollInterval = DefaultClosePollInterval
	}

	if cfg.CloseWaitTimeout <= 0 {
		cfg.CloseWaitTimeout = DefaultCloseWaitTimeout
	}

	if cfg.RenewRetries <= 0 {
		cfg.RenewRetries = DefaultRenewRetries
	}

	if err := validateTrigger(cfg); err != nil {
		return err
	}

	return validateMonitors(cfg.Monitors)
}

// validateTrigger checks that exactly one alarm delivery mode is usable.
func validateTrigger(cfg *Config) error {
	if cfg.Script != "" {
		return nil
	}

	if cfg.ZoneMinder.TriggerAddress == "" {
		cfg.ZoneMinder.TriggerAddress = DefaultTriggerAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ZoneMinder.TriggerAddress); err != nil {
		return fmt.Errorf("invalid trigger address: %w", err)
	}

	if cfg.ZoneMinder.APIURL == "" {
		return errNoTriggerTarget
	}

	if _, err := url.ParseRequestURI(cfg.ZoneMinder.APIURL); err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}

	return nil
}

// validateMonitors ensures monitor ids are positive and unique. Reference ids
// are embedded in callback paths, so a duplicate would make routing ambiguous.
func validateMonitors(monitors []MonitorConfig) error {
	seen := make(map[int]struct{}, len(monitors))

	for _, m := range monitors {
		if m.ID <= 0 {
			return fmt.Errorf("monitor %q: id must be positive, got %d", m.Name, m.ID)
		}

		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("duplicate monitor id %d", m.ID)
		}

		seen[m.ID] = struct{}{}
	}

	return nil
}
