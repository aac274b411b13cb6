package appconfig

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.ACL.Enabled {
		t.Fatalf("expected acl to default off")
	}
	if cfg.Server.CommandTimeout() != 30*time.Minute || cfg.ACL.Timeout() != 30*time.Minute {
		t.Fatalf("unexpected default timeouts %v %v", cfg.Server.CommandTimeout(), cfg.ACL.Timeout())
	}
	if cfg.Lock.TTL() != 10*time.Minute || cfg.Lock.Wait() != 0 || cfg.Lock.PollInterval() != 50*time.Millisecond {
		t.Fatalf("unexpected lock defaults %+v", cfg.Lock)
	}
	if cfg.Server.PortRange != "60100:60200" {
		t.Fatalf("unexpected port range %q", cfg.Server.PortRange)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty app":        func(c *Config) { c.AppName = " " },
		"port range":       func(c *Config) { c.Server.PortRange = "80:90" },
		"max clients":      func(c *Config) { c.Server.MaxClients = 0 },
		"cache scheme":     func(c *Config) { c.Cache.URL = "mongodb://x" },
		"cache no scheme":  func(c *Config) { c.Cache.URL = "/tmp/x.db" },
		"lock wait > ttl":  func(c *Config) { c.Lock.WaitMS = c.Lock.TTLMS + 1 },
		"acl without user": func(c *Config) { c.ACL.Enabled = true },
		"user no password": func(c *Config) { c.ACL.Users = []ACLUser{{Username: "admin"}} },
		"duplicate user": func(c *Config) {
			c.ACL.Users = []ACLUser{{Username: "admin", Password: "a"}, {Username: "admin", Password: "b"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
