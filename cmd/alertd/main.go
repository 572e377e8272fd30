package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/history"
	"github.com/you/gnasty-alerts/internal/httpapi"
	"github.com/you/gnasty-alerts/internal/match"
	"github.com/you/gnasty-alerts/internal/playback"
	"github.com/you/gnasty-alerts/internal/relay"
	"github.com/you/gnasty-alerts/internal/rulecache"
	"github.com/you/gnasty-alerts/internal/scheduler"
	"github.com/you/gnasty-alerts/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		relayURL        string
		configURL       string
		ttsURL          string
		channelsFlag    string
		dbPath          string
		rulesDir        string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
		tickMS          int
		lookahead       int
		volume          float64
		ttsLocale       string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&relayURL, "relay-url", "", "WebSocket URL of the event relay")
	flag.StringVar(&configURL, "config-url", "", "Base URL for fetching channel alert configs")
	flag.StringVar(&ttsURL, "tts-url", "", "Remote text-to-speech endpoint (empty: local synthesis)")
	flag.StringVar(&channelsFlag, "channels", "", "Comma-separated channels to preload configs for")
	flag.StringVar(&dbPath, "sqlite", "alerts.db", "Path to SQLite history database file")
	flag.StringVar(&rulesDir, "rules-dir", "", "Directory of local per-channel rule overrides")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status/stream address (e.g., :8790)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.IntVar(&tickMS, "tick-ms", 0, "Scheduler tick interval in milliseconds")
	flag.IntVar(&lookahead, "lookahead", 0, "Backlog depth before follow alerts are burst-skipped")
	flag.Float64Var(&volume, "volume", -1, "Playback volume in [0,1]")
	flag.StringVar(&ttsLocale, "tts-locale", "", "Preferred locale prefix for local voices")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"alertd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["relay-url"] {
		cfg.Relay.URL = strings.TrimSpace(relayURL)
	}
	if overrides["config-url"] {
		cfg.Rules.ConfigURL = strings.TrimSpace(configURL)
	}
	if overrides["tts-url"] {
		cfg.Playback.TTSURL = strings.TrimSpace(ttsURL)
	}
	if overrides["channels"] {
		cfg.Relay.Channels = nil
		for _, c := range strings.Split(channelsFlag, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" {
				cfg.Relay.Channels = append(cfg.Relay.Channels, c)
			}
		}
	}
	if overrides["sqlite"] {
		cfg.History.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["rules-dir"] {
		cfg.Rules.LocalDir = strings.TrimSpace(rulesDir)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["tick-ms"] && tickMS > 0 {
		cfg.Engine.TickMS = tickMS
	}
	if overrides["lookahead"] && lookahead > 0 {
		cfg.Engine.Lookahead = lookahead
	}
	if overrides["volume"] && volume >= 0 && volume <= 1 {
		cfg.Playback.Volume = volume
	}
	if overrides["tts-locale"] {
		cfg.Playback.TTSLocale = strings.TrimSpace(ttsLocale)
	}

	configSnapshot := cfg.Redacted()
	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("alertd: received %s, shutting down", sig)
		cancel()
	}()

	var fetcher rulecache.Fetcher
	if cfg.Rules.ConfigURL != "" {
		fetcher = rulecache.NewHTTPFetcher(cfg.Rules.ConfigURL)
	} else {
		log.Printf("alertd: no config url set; only local rule overrides will match")
	}
	cache := rulecache.New(fetcher, rulecache.Options{FetchRPS: 2, FetchBurst: 4})

	if cfg.Rules.LocalDir != "" {
		if err := cache.LoadOverrides(cfg.Rules.LocalDir); err != nil {
			log.Printf("alertd: load rule overrides: %v", err)
		}
		if err := cache.WatchOverrides(cfg.Rules.LocalDir); err != nil {
			log.Printf("alertd: watch rule overrides: %v", err)
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	out := &playback.NullOutput{}

	var tts *playback.TTSClient
	if cfg.Playback.TTSURL != "" {
		tts = playback.NewTTSClient(cfg.Playback.TTSURL)
	}
	speech := playback.NewSpeechPlayer(out, tts, nil, cfg.Playback.TTSLocale, rng)
	clips := playback.NewClipPlayer(out)

	engine := scheduler.New(cache, match.New(rng), clips, speech, scheduler.Config{
		TickInterval: cfg.TickInterval(),
		Lookahead:    cfg.Engine.Lookahead,
		Volume:       cfg.Playback.Volume,
	})
	if v, ok := speech.SessionVoice(); ok {
		engine.Voice = v.Name
	}

	store, err := history.OpenSQLite(cfg.History.SQLitePath)
	if err != nil {
		log.Fatalf("alertd: open sqlite: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("alertd: closing history store: %v", err)
		}
	}()
	if err := store.Ping(); err != nil {
		log.Fatalf("alertd: ping sqlite: %v", err)
	}
	if err := migrateSQLite(ctx, store.RawDB()); err != nil {
		log.Fatalf("alertd: sqlite migrate: %v", err)
	}

	var writer history.Writer = store
	var buffered *history.BufferedWriter
	if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
		buffered = history.NewBufferedWriter(store, history.BufferedOptions{
			BatchSize:     cfg.Batch(),
			FlushInterval: cfg.FlushInterval(),
		})
		writer = buffered
	}
	if buffered != nil {
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("alertd: flush history: %v", err)
			}
		}()
	}

	engine.OnOutcome = func(rec scheduler.Record) {
		row := httpapi.AlertRow{
			EventID:   rec.Event.ID,
			Channel:   rec.Event.Channel,
			Username:  rec.Event.Username,
			EventType: string(rec.Event.Type),
			Amount:    rec.Event.Amount,
			Outcome:   string(rec.Outcome),
			Ts:        rec.At,
		}
		if rec.Rule != nil {
			row.RuleKind = string(rec.Rule.Specifier.Kind)
			row.RuleAmount = rec.Rule.Specifier.Amount
		}
		if err := writer.Write(row); err != nil {
			log.Printf("alertd: write alert history: %v", err)
		}
	}

	var corsOrigins []string
	if strings.TrimSpace(httpCorsOrigins) != "" {
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				corsOrigins = append(corsOrigins, origin)
			}
		}
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	api := httpapi.New(engine, store, httpapi.Options{
		Addr:            cfg.HTTP.Addr,
		CORSOrigins:     corsOrigins,
		RateLimitRPS:    httpRateRPS,
		RateLimitBurst:  httpRateBurst,
		EnableMetrics:   httpMetrics,
		EnableAccessLog: httpAccessLog,
		Build:           build,
		ConfigSnapshot:  configSnapshot,
	})
	if m := api.Metrics(); m != nil {
		engine.SetMetrics(scheduler.NewMetrics(m.Registry()))
	}
	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("alertd: http api: %v", err)
		}
	}()
	log.Printf("alertd: http api ready on %s", cfg.HTTP.Addr)

	engine.WarmUp(cfg.Relay.Channels...)
	go engine.Run(ctx)

	if cfg.Relay.URL != "" {
		client := relay.New(relay.Config{URL: cfg.Relay.URL}, engine.AddEvent)
		go func() {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("alertd: relay: %v", err)
				cancel()
			}
		}()
	} else {
		log.Printf("alertd: no relay url set; engine idle until events arrive another way")
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("alertd: http shutdown: %v", err)
	}
	log.Printf("alertd: bye")
}
