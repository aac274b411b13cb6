package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != DefaultAppName || cfg.Cache.URL != "memory://" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
app_name: demo
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
app_name: demo
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected missing config_version error, got %v", err)
	}
}

func TestLoadACLUsersAndOverrides(t *testing.T) {
	t.Setenv("RSHELL_TEST_PW", "123456")
	t.Setenv("RSHELL_TEST_DIR", "/var/lib/rshell")
	path := writeConfig(t, `
config_version: 1
app_name: billing
server:
  port_range: "61000:61100"
  max_clients: 5
acl:
  enabled: true
  timeout_ms: 60000
  users:
    - username: admin
      password: ${RSHELL_TEST_PW}
      permissions: [administrator, ops]
    - username: viewer
      password_hash: $2a$10$abcdefghijklmnopqrstuuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZa
cache:
  url: sqlite://$RSHELL_TEST_DIR/cache.db
lock:
  wait_ms: 1000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "billing" || cfg.Server.MaxClients != 5 || cfg.Server.PortRange != "61000:61100" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if !cfg.ACL.Enabled || len(cfg.ACL.Users) != 2 {
		t.Fatalf("unexpected acl config %+v", cfg.ACL)
	}
	admin := cfg.ACL.Users[0]
	if admin.Password != "123456" || len(admin.Permissions) != 2 || admin.Permissions[0] != "administrator" {
		t.Fatalf("unexpected admin user %+v", admin)
	}
	if cfg.Cache.URL != "sqlite:///var/lib/rshell/cache.db" {
		t.Fatalf("expected env expansion in cache url, got %q", cfg.Cache.URL)
	}
	if cfg.Lock.WaitMS != 1000 || cfg.Lock.TTLMS != 600000 {
		t.Fatalf("expected lock defaults merged with overrides, got %+v", cfg.Lock)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
cache:
  url: etcd://localhost:2379
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cache.url") {
		t.Fatalf("expected cache url error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("written default must load: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("unexpected version %d", cfg.ConfigVersion)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
