// Package scheduler owns the alert queue and playback state machine: it
// matches queued events to rules on a periodic tick, serializes jingle and
// speech playback, and exposes the pause/resume/skip/mute transport controls.
package scheduler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/playback"
	"github.com/you/gnasty-alerts/internal/rulecache"
)

// Outcome classifies how a queue entry left the queue.
type Outcome string

const (
	OutcomePlayed    Outcome = "played"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeBurstSkip Outcome = "burst_skipped"
	OutcomeNoMatch   Outcome = "no_match"
)

// Record describes one finished queue entry, for history and metrics.
type Record struct {
	Event   core.Event
	Outcome Outcome
	Rule    *core.AlertRule
	At      time.Time
}

// Stage names the playback phase of the current alert.
type Stage string

const (
	StageJingle Stage = "jingle"
	StageSpeech Stage = "speech"
)

// Current describes the alert being rendered right now.
type Current struct {
	EventID   int64          `json:"event_id"`
	Channel   string         `json:"channel"`
	Username  string         `json:"username"`
	EventType core.EventType `json:"event_type"`
	Amount    float64        `json:"amount"`
	Stage     Stage          `json:"stage"`
	StartedAt time.Time      `json:"started_at"`
}

// Status is the read-only snapshot polled or pushed to the UI layer.
type Status struct {
	Playing   bool     `json:"playing"`
	Paused    bool     `json:"paused"`
	Muted     bool     `json:"muted"`
	QueueLen  int      `json:"queue_len"`
	Cursor    int      `json:"cursor"`
	Backlog   int      `json:"backlog"`
	Voice     string   `json:"voice,omitempty"`
	Current   *Current `json:"current,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// Matcher resolves an event against a channel config.
type Matcher interface {
	Match(ev core.Event, cfg *core.ChannelAlertConfig) *core.AlertRule
}

// ClipPlayer renders one pre-recorded clip.
type ClipPlayer interface {
	Play(clip playback.Clip, onStart, onEnd func()) *playback.Playback
}

// SpeechPlayer renders one utterance.
type SpeechPlayer interface {
	Speak(req playback.SpeechRequest, onStart, onEnd func()) *playback.Playback
}

// Config tunes the scheduler.
type Config struct {
	// TickInterval drives Run's periodic check; default 1s.
	TickInterval time.Duration
	// Lookahead is the backlog size beyond which low-priority entries at the
	// cursor are dropped without playing; default 3.
	Lookahead int
	// Volume is the playback volume in [0,1]; default 1.
	Volume float64
	// JingleHold is the minimum time a jingle occupies even when the media
	// is shorter; default 1s.
	JingleHold time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 3
	}
	if c.Volume <= 0 || c.Volume > 1 {
		c.Volume = 1
	}
	if c.JingleHold <= 0 {
		c.JingleHold = time.Second
	}
	return c
}

// Scheduler serializes alert playback. All state lives behind one mutex; the
// generation counter guards against stale completion callbacks re-triggering
// scheduling after a skip.
type Scheduler struct {
	cfg     Config
	cache   *rulecache.Cache
	matcher Matcher
	clips   ClipPlayer
	speech  SpeechPlayer
	metrics *Metrics

	// OnOutcome, when set, receives every entry that leaves the queue.
	// Called off the scheduler lock.
	OnOutcome func(Record)

	// Voice is advertised in status for UI display.
	Voice string

	mu      sync.Mutex
	queue   []core.Event
	cursor  int
	playing bool
	paused  bool
	muted   bool
	gen     uint64
	active  *playback.Playback
	current *Current
	rule    *core.AlertRule
	subs    map[chan Status]struct{}
}

func New(cache *rulecache.Cache, matcher Matcher, clips ClipPlayer, speech SpeechPlayer, cfg Config) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		cache:   cache,
		matcher: matcher,
		clips:   clips,
		speech:  speech,
		subs:    make(map[chan Status]struct{}),
	}
}

// SetMetrics attaches engine collectors; optional.
func (s *Scheduler) SetMetrics(m *Metrics) { s.metrics = m }

// AddEvent appends to the queue unconditionally. Playback is driven by the
// periodic tick, never by arrival. The event's channel config load is kicked
// off here so a warm cache is likely by the time the entry reaches playback.
func (s *Scheduler) AddEvent(ev core.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.EnsureLoaded(ev.Channel)
	}
	s.notify()
}

// WarmUp preloads configs for a set of channels ahead of their first event.
func (s *Scheduler) WarmUp(channels ...string) {
	if s.cache != nil {
		s.cache.EnsureLoaded(channels...)
	}
}

// Run ticks until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one scheduling pass: burst-skips low-priority backlog, then
// starts at most one alert. A no-op while playing or paused.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if s.playing || s.paused {
		s.mu.Unlock()
		return
	}

	var dropped []core.Event
	for s.cursor < len(s.queue) &&
		len(s.queue)-s.cursor > s.cfg.Lookahead &&
		lowPriority(s.queue[s.cursor]) {
		dropped = append(dropped, s.queue[s.cursor])
		s.cursor++
	}

	if s.cursor >= len(s.queue) {
		s.mu.Unlock()
		s.report(dropped, OutcomeBurstSkip, nil)
		return
	}

	ev := s.queue[s.cursor]
	s.cursor++

	cfg, _ := s.cache.Get(ev.Channel)
	var rule *core.AlertRule
	if cfg != nil {
		rule = s.matcher.Match(ev, cfg)
	}
	if rule == nil {
		s.mu.Unlock()
		s.report(dropped, OutcomeBurstSkip, nil)
		s.report([]core.Event{ev}, OutcomeNoMatch, nil)
		s.notify()
		return
	}

	s.playing = true
	s.gen++
	gen := s.gen
	s.rule = rule
	s.current = &Current{
		EventID:   ev.ID,
		Channel:   ev.Channel,
		Username:  ev.Username,
		EventType: ev.Type,
		Amount:    ev.AmountOrZero(),
		StartedAt: time.Now(),
	}
	s.mu.Unlock()

	s.report(dropped, OutcomeBurstSkip, nil)
	s.startEntry(ev, rule, cfg, gen)
	s.notify()
}

// lowPriority marks entries droppable under backlog pressure. Follows are
// bot-susceptible; monetary events are never dropped.
func lowPriority(ev core.Event) bool {
	mt, ok := ev.Type.MainType()
	return ok && mt == core.MainFollow
}

func (s *Scheduler) startEntry(ev core.Event, rule *core.AlertRule, cfg *core.ChannelAlertConfig, gen uint64) {
	var (
		jingle    playback.Clip
		hasJingle bool
	)
	if rule.Audio != nil && rule.Audio.JingleRef != "" {
		if f, ok := cfg.File(rule.Audio.JingleRef); ok {
			data, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				slog.Warn("scheduler: bad jingle payload",
					"channel", ev.Channel, "ref", rule.Audio.JingleRef, "err", err)
			} else {
				jingle = playback.Clip{
					Mime:    f.Mime,
					Data:    data,
					MinHold: s.cfg.JingleHold,
					Volume:  s.volume(),
				}
				hasJingle = true
			}
		} else {
			slog.Warn("scheduler: jingle ref not in config",
				"channel", ev.Channel, "ref", rule.Audio.JingleRef)
		}
	}

	speech, hasSpeech := s.speechRequest(ev, rule)

	switch {
	case hasJingle:
		pb := s.clips.Play(jingle,
			func() { s.setStage(gen, StageJingle) },
			func() {
				if hasSpeech {
					s.startSpeech(speech, gen)
				} else {
					s.finish(gen)
				}
			})
		s.adopt(pb, gen)
	case hasSpeech:
		s.startSpeech(speech, gen)
	default:
		// Visual-only or empty rule: a zero-length alert.
		s.finish(gen)
	}
}

func (s *Scheduler) startSpeech(req playback.SpeechRequest, gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.playing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	req.Volume = s.volume()
	pb := s.speech.Speak(req,
		func() { s.setStage(gen, StageSpeech) },
		func() { s.finish(gen) })
	s.adopt(pb, gen)
}

// adopt records the in-flight playback so Skip can cancel it. If the entry
// was skipped while the stage was starting, cancel right away.
func (s *Scheduler) adopt(pb *playback.Playback, gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.playing {
		s.mu.Unlock()
		pb.Cancel()
		return
	}
	s.active = pb
	s.mu.Unlock()
}

func (s *Scheduler) setStage(gen uint64, stage Stage) {
	s.mu.Lock()
	if s.gen == gen && s.current != nil {
		s.current.Stage = stage
	}
	s.mu.Unlock()
	s.notify()
}

// finish completes the current entry. Stale generations (entries already
// skipped) are ignored so a lingering completion callback cannot re-trigger
// scheduling.
func (s *Scheduler) finish(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.playing {
		s.mu.Unlock()
		return
	}
	ev, rule := s.clearCurrentLocked()
	s.mu.Unlock()

	s.report([]core.Event{ev}, OutcomePlayed, rule)
	s.notify()
}

// clearCurrentLocked resets the playing slot and returns what was playing.
func (s *Scheduler) clearCurrentLocked() (core.Event, *core.AlertRule) {
	var ev core.Event
	if s.current != nil {
		ev = core.Event{
			ID:       s.current.EventID,
			Channel:  s.current.Channel,
			Username: s.current.Username,
			Type:     s.current.EventType,
			Amount:   s.current.Amount,
		}
	}
	rule := s.rule
	s.playing = false
	s.active = nil
	s.current = nil
	s.rule = nil
	return ev, rule
}

// Pause suspends scheduling of the next alert; in-flight audio continues to
// completion. Hard-stop requires Skip.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.notify()
}

// Resume re-enables the tick.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.notify()
}

// Skip cancels the current alert, stopping its audio and returning the
// scheduler to idle so the next tick can proceed. No-op when nothing plays.
func (s *Scheduler) Skip() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.gen++ // invalidate in-flight completion callbacks
	pb := s.active
	ev, rule := s.clearCurrentLocked()
	s.mu.Unlock()

	if pb != nil {
		pb.Cancel()
	}
	s.report([]core.Event{ev}, OutcomeSkipped, rule)
	s.notify()
}

// Mute zeroes playback volume for subsequent stages; scheduling continues.
func (s *Scheduler) Mute() {
	s.mu.Lock()
	s.muted = true
	s.mu.Unlock()
	s.notify()
}

// Unmute restores the configured volume.
func (s *Scheduler) Unmute() {
	s.mu.Lock()
	s.muted = false
	s.mu.Unlock()
	s.notify()
}

func (s *Scheduler) volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muted {
		return 0
	}
	return s.cfg.Volume
}

// Status returns a point-in-time snapshot for polling clients.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Playing:  s.playing,
		Paused:   s.paused,
		Muted:    s.muted,
		QueueLen: len(s.queue),
		Cursor:   s.cursor,
		Backlog:  len(s.queue) - s.cursor,
		Voice:    s.Voice,
	}
	if s.current != nil {
		cur := *s.current
		st.Current = &cur
		st.ElapsedMS = time.Since(cur.StartedAt).Milliseconds()
	}
	return st
}

// Subscribe registers a channel receiving status pushes. Slow subscribers
// miss updates rather than block the engine.
func (s *Scheduler) Subscribe(ch chan Status) {
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Scheduler) Unsubscribe(ch chan Status) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Scheduler) notify() {
	st := s.Status()
	s.metrics.setBacklog(st.Backlog)
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) report(events []core.Event, outcome Outcome, rule *core.AlertRule) {
	for _, ev := range events {
		s.metrics.observe(outcome)
		if outcome != OutcomePlayed {
			slog.Debug("scheduler: entry resolved",
				"outcome", string(outcome), "channel", ev.Channel, "type", string(ev.Type))
		}
		if s.OnOutcome != nil {
			s.OnOutcome(Record{Event: ev, Outcome: outcome, Rule: rule, At: time.Now()})
		}
	}
}

func (s *Scheduler) speechRequest(ev core.Event, rule *core.AlertRule) (playback.SpeechRequest, bool) {
	if rule.Audio == nil || rule.Audio.TTS == nil {
		return playback.SpeechRequest{}, false
	}
	tts := rule.Audio.TTS
	text := FormatTemplate(tts.Template, ev)
	if strings.TrimSpace(text) == "" {
		return playback.SpeechRequest{}, false
	}
	return playback.SpeechRequest{
		Text:      text,
		VoiceType: tts.VoiceType,
		Voice:     tts.VoiceSpecifier,
	}, true
}

// FormatTemplate substitutes event fields into a rule's TTS template. The
// placeholders are {user}, {to}, {amount} and {text}.
func FormatTemplate(template string, ev core.Event) string {
	r := strings.NewReplacer(
		"{user}", ev.Username,
		"{to}", ev.UsernameTo,
		"{amount}", formatAmount(ev.AmountOrZero()),
		"{text}", ev.Text,
	)
	return r.Replace(template)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
