package rulecache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/you/gnasty-alerts/internal/core"
)

// LoadOverrides reads every <channel>.json file in dir as a full
// ChannelAlertConfig and installs it as a local override. Overrides win over
// fetched configs and survive cache invalidation.
func (c *Cache) LoadOverrides(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read overrides dir")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		channel := strings.TrimSuffix(entry.Name(), ".json")
		path := filepath.Join(dir, entry.Name())
		cfg, err := readOverride(path)
		if err != nil {
			slog.Error("rulecache: override parse", "path", path, "err", err)
			continue
		}
		c.setOverride(channel, cfg)
		slog.Info("rulecache: override installed", "channel", channel, "buckets", len(cfg.Rules))
	}
	return nil
}

// WatchOverrides reloads the override directory whenever a file in it
// changes. Events are debounced so editors writing in multiple steps trigger
// a single reload.
func (c *Cache) WatchOverrides(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return errors.Wrap(err, "watch overrides dir")
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				c.reloadOverrides(dir)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("rulecache: watch error", "err", err)
			}
		}
	}()
	return nil
}

func (c *Cache) reloadOverrides(dir string) {
	c.mu.Lock()
	stale := make(map[string]struct{}, len(c.overrides))
	for channel := range c.overrides {
		stale[channel] = struct{}{}
	}
	c.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Error("rulecache: override reload", "dir", dir, "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		channel := normalize(strings.TrimSuffix(entry.Name(), ".json"))
		path := filepath.Join(dir, entry.Name())
		cfg, err := readOverride(path)
		if err != nil {
			slog.Error("rulecache: override parse", "path", path, "err", err)
			delete(stale, channel)
			continue
		}
		c.setOverride(channel, cfg)
		delete(stale, channel)
	}
	for channel := range stale {
		c.setOverride(channel, nil)
		slog.Info("rulecache: override removed", "channel", channel)
	}
	slog.Info("rulecache: overrides reloaded", "dir", dir)
}

func readOverride(path string) (*core.ChannelAlertConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg core.ChannelAlertConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
