// Package eventtrace provides opt-in per-event tracing through the alert
// pipeline, from relay frame to queue.
package eventtrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Stage represents a pipeline stage used for tracking event processing.
type Stage string

const (
	StageSeenFromRelay Stage = "seen_from_relay"
	StageDecodedOK     Stage = "decoded_ok"
	StageEnqueued      Stage = "enqueued"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped event with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

var (
	enabledOnce sync.Once
	enabled     bool
)

// Enabled reports whether tracing is turned on via GNASTY_ALERTS_TRACE=1.
// Checked once per process.
func Enabled() bool {
	enabledOnce.Do(func() {
		enabled = os.Getenv("GNASTY_ALERTS_TRACE") == "1"
	})
	return enabled
}

// EventTrace captures trace metadata for an event throughout the pipeline.
type EventTrace struct {
	Channel   string
	User      string
	EventType string
	Snippet   string
	TraceID   string

	mu       sync.Mutex
	counters map[Stage]int64
}

// New constructs a trace from relay frame metadata and seeds the
// seen_from_relay counter.
func New(channel, user, eventType, snippet string) *EventTrace {
	trace := &EventTrace{
		Channel:   channel,
		User:      user,
		EventType: eventType,
		Snippet:   snippet,
		TraceID:   computeTraceID(channel, user, eventType, snippet),
		counters:  make(map[Stage]int64),
	}

	trace.counters[StageSeenFromRelay] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the
// updated value.
func (t *EventTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *EventTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"channel", t.Channel,
		"user", t.User,
		"event_type", t.EventType,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *EventTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(channel, user, eventType, snippet string) string {
	digest := sha256.Sum256([]byte(channel + "\x1f" + user + "\x1f" + eventType + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
