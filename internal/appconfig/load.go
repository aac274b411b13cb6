package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/rshell/internal/portrange"
	"pkt.systems/rshell/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("server.bind_addr", cfg.Server.BindAddr)
	v.SetDefault("server.port_range", cfg.Server.PortRange)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.max_clients", cfg.Server.MaxClients)
	v.SetDefault("server.command_timeout_seconds", cfg.Server.CommandTimeoutSeconds)
	v.SetDefault("server.max_message_bytes", cfg.Server.MaxMessageBytes)
	v.SetDefault("acl.enabled", cfg.ACL.Enabled)
	v.SetDefault("acl.timeout_ms", cfg.ACL.TimeoutMS)
	v.SetDefault("acl.users", cfg.ACL.Users)
	v.SetDefault("cache.url", cfg.Cache.URL)
	v.SetDefault("cache.session_namespace", cfg.Cache.SessionNamespace)
	v.SetDefault("cache.session_ttl_seconds", cfg.Cache.SessionTTLSeconds)
	v.SetDefault("lock.ttl_ms", cfg.Lock.TTLMS)
	v.SetDefault("lock.wait_ms", cfg.Lock.WaitMS)
	v.SetDefault("lock.poll_interval_ms", cfg.Lock.PollIntervalMS)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints of cfg.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.AppName) == "" {
		return errors.New("app_name is required")
	}
	if _, err := portrange.Parse(cfg.Server.PortRange); err != nil {
		return fmt.Errorf("server.port_range: %w", err)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxClients < 1 {
		return fmt.Errorf("server.max_clients must be at least 1")
	}
	if cfg.Server.CommandTimeoutSeconds < 0 {
		return fmt.Errorf("server.command_timeout_seconds must not be negative")
	}
	if cfg.Server.MaxMessageBytes < 1024 {
		return fmt.Errorf("server.max_message_bytes must be at least 1024")
	}
	if err := validateCacheURL(cfg.Cache.URL); err != nil {
		return err
	}
	if cfg.Cache.SessionTTLSeconds < 0 {
		return fmt.Errorf("cache.session_ttl_seconds must not be negative")
	}
	if cfg.Lock.TTLMS <= 0 {
		return fmt.Errorf("lock.ttl_ms must be positive")
	}
	if cfg.Lock.WaitMS < 0 || cfg.Lock.WaitMS > cfg.Lock.TTLMS {
		return fmt.Errorf("lock.wait_ms must be between 0 and lock.ttl_ms")
	}
	if cfg.Lock.PollIntervalMS <= 0 {
		return fmt.Errorf("lock.poll_interval_ms must be positive")
	}
	return validateACL(cfg.ACL)
}

func validateCacheURL(raw string) error {
	scheme, _, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok {
		return fmt.Errorf("cache.url %q must include a scheme", raw)
	}
	switch scheme {
	case "memory", "sqlite", "redis", "rediss", "redis+cluster":
		return nil
	default:
		return fmt.Errorf("cache.url: unsupported scheme %q", scheme)
	}
}

func validateACL(cfg ACLConfig) error {
	seen := make(map[schema.Username]struct{}, len(cfg.Users))
	for i, u := range cfg.Users {
		name, err := schema.NormalizeUsername(u.Username)
		if err != nil {
			return fmt.Errorf("acl.users[%d]: %w", i, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("acl.users[%d]: duplicate username %q", i, name)
		}
		seen[name] = struct{}{}
		if u.Password == "" && u.PasswordHash == "" {
			return fmt.Errorf("acl.users[%d]: password or password_hash is required", i)
		}
	}
	if cfg.Enabled && len(cfg.Users) == 0 {
		return errors.New("acl.enabled requires at least one user in acl.users")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Cache.URL = expandEnv(cfg.Cache.URL)
	cfg.Metrics.Addr = expandEnv(cfg.Metrics.Addr)
	for i := range cfg.ACL.Users {
		cfg.ACL.Users[i].Password = expandEnv(cfg.ACL.Users[i].Password)
		cfg.ACL.Users[i].TOTPSecret = expandEnv(cfg.ACL.Users[i].TOTPSecret)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
