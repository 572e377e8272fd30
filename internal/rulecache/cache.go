// Package rulecache lazily loads and caches per-channel alert rule
// configurations fetched from the external configuration service.
package rulecache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/you/gnasty-alerts/internal/core"
)

// Fetcher retrieves one channel's alert configuration.
type Fetcher interface {
	Fetch(ctx context.Context, channel string) (*core.ChannelAlertConfig, error)
}

// Cache holds loaded channel configs for the process lifetime. A channel is
// fetched at most once concurrently; fetch failures leave the channel absent
// and are retried on the next EnsureLoaded call, never on a timer.
type Cache struct {
	fetcher      Fetcher
	limiter      *rate.Limiter
	fetchTimeout time.Duration

	mu        sync.Mutex
	configs   map[string]*core.ChannelAlertConfig
	overrides map[string]*core.ChannelAlertConfig
	inflight  map[string]struct{}
}

// Options tunes cache behaviour. FetchRPS bounds outbound config fetches so a
// large channel warm-up does not burst the configuration service.
type Options struct {
	FetchRPS     int
	FetchBurst   int
	FetchTimeout time.Duration
}

func New(fetcher Fetcher, opts Options) *Cache {
	var limiter *rate.Limiter
	if opts.FetchRPS > 0 {
		burst := opts.FetchBurst
		if burst <= 0 {
			burst = opts.FetchRPS
		}
		limiter = rate.NewLimiter(rate.Limit(opts.FetchRPS), burst)
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Cache{
		fetcher:      fetcher,
		limiter:      limiter,
		fetchTimeout: timeout,
		configs:      make(map[string]*core.ChannelAlertConfig),
		overrides:    make(map[string]*core.ChannelAlertConfig),
		inflight:     make(map[string]struct{}),
	}
}

// EnsureLoaded starts background fetches for any channel that is neither
// cached nor already loading. Safe to call repeatedly with overlapping sets.
func (c *Cache) EnsureLoaded(channels ...string) {
	for _, raw := range channels {
		channel := normalize(raw)
		if channel == "" {
			continue
		}

		c.mu.Lock()
		_, cached := c.configs[channel]
		_, overridden := c.overrides[channel]
		_, loading := c.inflight[channel]
		if cached || overridden || loading || c.fetcher == nil {
			c.mu.Unlock()
			continue
		}
		c.inflight[channel] = struct{}{}
		c.mu.Unlock()

		go c.load(channel)
	}
}

func (c *Cache) load(channel string) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, channel)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			slog.Warn("rulecache: fetch limiter wait", "channel", channel, "err", err)
			return
		}
	}

	cfg, err := c.fetcher.Fetch(ctx, channel)
	if err != nil {
		slog.Warn("rulecache: fetch failed", "channel", channel, "err", err)
		return
	}
	if cfg == nil {
		slog.Warn("rulecache: fetch returned no config", "channel", channel)
		return
	}
	c.Store(channel, cfg)
	slog.Info("rulecache: loaded config",
		"channel", channel, "hash", cfg.Meta.Hash, "buckets", len(cfg.Rules))
}

// Store caches a fetched config. An existing entry with the same meta hash is
// kept as-is; a differing hash replaces it.
func (c *Cache) Store(channel string, cfg *core.ChannelAlertConfig) {
	channel = normalize(channel)
	if channel == "" || cfg == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.configs[channel]; ok && existing.Meta.Hash == cfg.Meta.Hash {
		return
	}
	c.configs[channel] = cfg
}

// Get returns the config for a channel. Local overrides win over fetched
// configs. The second return is false when the channel is absent.
func (c *Cache) Get(channel string) (*core.ChannelAlertConfig, bool) {
	channel = normalize(channel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.overrides[channel]; ok {
		return cfg, true
	}
	cfg, ok := c.configs[channel]
	return cfg, ok
}

// Invalidate drops a cached config so the next EnsureLoaded refetches it.
func (c *Cache) Invalidate(channel string) {
	channel = normalize(channel)
	c.mu.Lock()
	delete(c.configs, channel)
	c.mu.Unlock()
}

// Loaded reports how many channels currently have a usable config.
func (c *Cache) Loaded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.configs)
	for channel := range c.overrides {
		if _, ok := c.configs[channel]; !ok {
			n++
		}
	}
	return n
}

func (c *Cache) setOverride(channel string, cfg *core.ChannelAlertConfig) {
	channel = normalize(channel)
	if channel == "" {
		return
	}
	c.mu.Lock()
	if cfg == nil {
		delete(c.overrides, channel)
	} else {
		c.overrides[channel] = cfg
	}
	c.mu.Unlock()
}

func normalize(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
