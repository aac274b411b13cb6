package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/rshell/internal/portrange"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	AppName       string        `mapstructure:"app_name" yaml:"app_name"`
	Server        ServerConfig  `mapstructure:"server" yaml:"server"`
	ACL           ACLConfig     `mapstructure:"acl" yaml:"acl"`
	Cache         CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Lock          LockConfig    `mapstructure:"lock" yaml:"lock"`
	Metrics       MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// DefaultAppName names the console when nothing else is configured.
const DefaultAppName = "shell-example"

// ServerConfig configures the console listener.
type ServerConfig struct {
	BindAddr string `mapstructure:"bind_addr" yaml:"bind_addr"`
	// PortRange is "begin:end"; the listen port is derived from app_name
	// unless Port is set.
	PortRange             string `mapstructure:"port_range" yaml:"port_range"`
	Port                  int    `mapstructure:"port" yaml:"port"`
	MaxClients            int    `mapstructure:"max_clients" yaml:"max_clients"`
	CommandTimeoutSeconds int    `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	MaxMessageBytes       int    `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
}

// ACLConfig controls console authentication.
type ACLConfig struct {
	Enabled   bool      `mapstructure:"enabled" yaml:"enabled"`
	TimeoutMS int64     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	Users     []ACLUser `mapstructure:"users" yaml:"users"`
}

// ACLUser is one configured console account. Either password or
// password_hash (bcrypt) must be set.
type ACLUser struct {
	Username     string   `mapstructure:"username" yaml:"username"`
	Password     string   `mapstructure:"password" yaml:"password,omitempty"`
	PasswordHash string   `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
	TOTPSecret   string   `mapstructure:"totp_secret" yaml:"totp_secret,omitempty"`
	Permissions  []string `mapstructure:"permissions" yaml:"permissions"`
}

// CacheConfig selects the shared backend for sessions and locks.
type CacheConfig struct {
	URL               string `mapstructure:"url" yaml:"url"`
	SessionNamespace  string `mapstructure:"session_namespace" yaml:"session_namespace"`
	SessionTTLSeconds int    `mapstructure:"session_ttl_seconds" yaml:"session_ttl_seconds"`
}

// LockConfig tunes command locks.
type LockConfig struct {
	TTLMS          int64 `mapstructure:"ttl_ms" yaml:"ttl_ms"`
	WaitMS         int64 `mapstructure:"wait_ms" yaml:"wait_ms"`
	PollIntervalMS int64 `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		AppName:       DefaultAppName,
		Server: ServerConfig{
			BindAddr:              "127.0.0.1",
			PortRange:             portrange.Default().String(),
			Port:                  0,
			MaxClients:            3,
			CommandTimeoutSeconds: 1800,
			MaxMessageBytes:       1 << 20,
		},
		ACL: ACLConfig{
			Enabled:   false,
			TimeoutMS: 1800000,
			Users:     []ACLUser{},
		},
		Cache: CacheConfig{
			URL:               "memory://",
			SessionNamespace:  "rshell.sessions",
			SessionTTLSeconds: 86400,
		},
		Lock: LockConfig{
			TTLMS:          600000,
			WaitMS:         0,
			PollIntervalMS: 50,
		},
		Metrics: MetricsConfig{Addr: ""},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}
}

// CommandTimeout returns the watchdog duration; zero disables it.
func (c ServerConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Timeout returns the authentication idle timeout.
func (c ACLConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// SessionTTL returns the session record lifetime; zero keeps records.
func (c CacheConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// TTL returns the lock lease.
func (c LockConfig) TTL() time.Duration { return time.Duration(c.TTLMS) * time.Millisecond }

// Wait returns how long a locked command waits for its lock.
func (c LockConfig) Wait() time.Duration { return time.Duration(c.WaitMS) * time.Millisecond }

// PollInterval returns the retry interval of blocking acquires.
func (c LockConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rshell", "config.yaml"), nil
}
