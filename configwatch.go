package rshell

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
	"pkt.systems/rshell/internal/appconfig"
)

const configReloadDebounce = 250 * time.Millisecond

// configWatcher reapplies the reloadable parts of the config file when it
// changes. Only ACL users are reloadable; everything else needs a restart.
type configWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	apply   func(appconfig.Config) error
	log     pslog.Logger
}

// newConfigWatcher watches the directory holding path so editors that
// replace the file by rename are seen too.
func newConfigWatcher(path string, apply func(appconfig.Config) error, log pslog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watch path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch config directory %q: %w", filepath.Dir(abs), err)
	}
	return &configWatcher{path: abs, watcher: w, apply: apply, log: log.With("config", abs)}, nil
}

func (c *configWatcher) run(ctx context.Context) {
	defer c.watcher.Close()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != c.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			c.log.Trace("config file event", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(configReloadDebounce)
			} else {
				timer.Reset(configReloadDebounce)
			}
			fire = timer.C
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn("config watch error", "err", err)
		case <-fire:
			fire = nil
			c.reload()
		}
	}
}

func (c *configWatcher) reload() {
	cfg, err := appconfig.Load(c.path)
	if err != nil {
		c.log.Warn("config reload failed", "err", err)
		return
	}
	if err := c.apply(cfg); err != nil {
		c.log.Warn("config reload rejected", "err", err)
		return
	}
	c.log.Info("config reloaded", "acl_users", len(cfg.ACL.Users))
}
