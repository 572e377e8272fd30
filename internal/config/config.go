package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Relay    RelayConfig
	Rules    RulesConfig
	Playback PlaybackConfig
	Engine   EngineConfig
	History  HistoryConfig
	HTTP     HTTPConfig
}

type RelayConfig struct {
	URL      string
	Channels []string
}

type RulesConfig struct {
	ConfigURL string
	LocalDir  string
}

type PlaybackConfig struct {
	TTSURL    string
	TTSLocale string
	Volume    float64
}

type EngineConfig struct {
	TickMS    int
	Lookahead int
}

type HistoryConfig struct {
	SQLitePath string
	BatchSize  int
	FlushMaxMS int
}

type HTTPConfig struct {
	Addr string
}

const (
	defaultSQLitePath = "alerts.db"
	defaultBatchSize  = 1
	defaultFlushMS    = 0
	defaultTickMS     = 1000
	defaultLookahead  = 3
	defaultHTTPAddr   = ":8790"
	defaultTTSLocale  = "en"
)

func Load() Config {
	cfg := Config{}

	cfg.Relay.URL = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_RELAY_URL"))
	cfg.Relay.Channels = splitList(os.Getenv("GNASTY_ALERTS_CHANNELS"))

	cfg.Rules.ConfigURL = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_CONFIG_URL"))
	cfg.Rules.LocalDir = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_RULES_DIR"))

	cfg.Playback.TTSURL = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_TTS_URL"))
	cfg.Playback.TTSLocale = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_TTS_LOCALE"))
	if cfg.Playback.TTSLocale == "" {
		cfg.Playback.TTSLocale = defaultTTSLocale
	}
	cfg.Playback.Volume = readFloat("GNASTY_ALERTS_VOLUME", 1)
	if cfg.Playback.Volume < 0 {
		cfg.Playback.Volume = 0
	}
	if cfg.Playback.Volume > 1 {
		cfg.Playback.Volume = 1
	}

	cfg.Engine.TickMS = readInt("GNASTY_ALERTS_TICK_MS", defaultTickMS)
	cfg.Engine.Lookahead = readInt("GNASTY_ALERTS_LOOKAHEAD", defaultLookahead)

	cfg.History.SQLitePath = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_SQLITE_PATH"))
	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = defaultSQLitePath
	}
	cfg.History.BatchSize = readInt("GNASTY_ALERTS_BATCH_SIZE", defaultBatchSize)
	cfg.History.FlushMaxMS = readInt("GNASTY_ALERTS_FLUSH_MAX_MS", defaultFlushMS)

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("GNASTY_ALERTS_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func (c Config) TickInterval() time.Duration {
	if c.Engine.TickMS <= 0 {
		return time.Duration(defaultTickMS) * time.Millisecond
	}
	return time.Duration(c.Engine.TickMS) * time.Millisecond
}

func (c Config) FlushInterval() time.Duration {
	if c.History.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.History.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.History.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.History.BatchSize
}

type Summary struct {
	RelayURL   string  `json:"relay_url,omitempty"`
	Channels   int     `json:"channels"`
	ConfigURL  string  `json:"config_url,omitempty"`
	RulesDir   string  `json:"rules_dir,omitempty"`
	TTSURL     string  `json:"tts_url,omitempty"`
	TTSLocale  string  `json:"tts_locale"`
	Volume     float64 `json:"volume"`
	TickMS     int     `json:"tick_ms"`
	Lookahead  int     `json:"lookahead"`
	SQLitePath string  `json:"sqlite_path"`
	BatchSize  int     `json:"batch"`
	FlushMaxMS int     `json:"flush_ms"`
	HTTPAddr   string  `json:"http_addr"`
}

func (c Config) Summary() Summary {
	return Summary{
		RelayURL:   c.Relay.URL,
		Channels:   len(c.Relay.Channels),
		ConfigURL:  c.Rules.ConfigURL,
		RulesDir:   c.Rules.LocalDir,
		TTSURL:     c.Playback.TTSURL,
		TTSLocale:  c.Playback.TTSLocale,
		Volume:     c.Playback.Volume,
		TickMS:     c.Engine.TickMS,
		Lookahead:  c.Engine.Lookahead,
		SQLitePath: c.History.SQLitePath,
		BatchSize:  c.History.BatchSize,
		FlushMaxMS: c.History.FlushMaxMS,
		HTTPAddr:   c.HTTP.Addr,
	}
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

// Redacted returns the config as a map safe to log. Relay and config
// URLs can embed tokens in query strings, so only their hosts survive.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"relay": map[string]any{
			"url":      redactURL(c.Relay.URL),
			"channels": append([]string(nil), c.Relay.Channels...),
		},
		"rules": map[string]any{
			"config_url": redactURL(c.Rules.ConfigURL),
			"local_dir":  c.Rules.LocalDir,
		},
		"playback": map[string]any{
			"tts_url":    redactURL(c.Playback.TTSURL),
			"tts_locale": c.Playback.TTSLocale,
			"volume":     c.Playback.Volume,
		},
		"engine": map[string]any{
			"tick_ms":   c.Engine.TickMS,
			"lookahead": c.Engine.Lookahead,
		},
		"history": map[string]any{
			"sqlite_path": c.History.SQLitePath,
			"batch_size":  c.History.BatchSize,
			"flush_ms":    c.History.FlushMaxMS,
		},
		"http": map[string]any{
			"addr": c.HTTP.Addr,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactURL(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if i := strings.IndexByte(value, '?'); i >= 0 {
		return value[:i] + "?***REDACTED***"
	}
	return value
}
