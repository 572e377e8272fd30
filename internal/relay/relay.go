// Package relay consumes alert events from the upstream relay over a
// WebSocket connection and hands normalized events to the engine.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/eventtrace"
)

type Config struct {
	URL string
	// DialTimeout bounds each connection attempt. Defaults to 10s.
	DialTimeout time.Duration
}

type Handler func(core.Event)

type Client struct {
	cfg    Config
	handle Handler
}

func New(cfg Config, h Handler) *Client {
	return &Client{cfg: cfg, handle: h}
}

// Run connects to the relay and reads events until the context is
// cancelled, reconnecting with capped exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return errors.New("relay: url is required")
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}

			log.Printf("relay: disconnected: %v; reconnecting in %s", err, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			if backoff < 60*time.Second {
				backoff *= 2
				if backoff > 60*time.Second {
					backoff = 60 * time.Second
				}
			}
			continue
		}

		backoff = time.Second
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialTimeout := c.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	log.Printf("relay: connecting to %s", c.cfg.URL)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// relay frames can carry large base64 payloads
	conn.SetReadLimit(32 << 20)

	log.Printf("relay: connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.MessageText {
			relayMetrics.incDropped("binary_frame")
			continue
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			relayMetrics.incDropped("decode")
			slog.Debug("relay: dropping frame", "err", err)
			continue
		}
		relayMetrics.incSeen()

		if eventtrace.Enabled() {
			trace := eventtrace.New(ev.Channel, ev.Username, string(ev.Type), snippet(ev.Text))
			trace.IncCounter(eventtrace.StageDecodedOK)
			c.handle(ev)
			trace.IncCounter(eventtrace.StageEnqueued)
			trace.LogTrace(slog.Default(), "relay: event ingested")
			continue
		}
		c.handle(ev)
	}
}

func snippet(text string) string {
	const max = 48
	if len(text) <= max {
		return text
	}
	return text[:max]
}

// wireEvent is the relay's JSON frame. The date field is unix
// milliseconds.
type wireEvent struct {
	ID         int64   `json:"id"`
	Channel    string  `json:"channel"`
	Username   string  `json:"username"`
	UsernameTo string  `json:"username_to,omitempty"`
	EventType  string  `json:"event_type"`
	Date       int64   `json:"date,omitempty"`
	Text       string  `json:"text,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Amount2    float64 `json:"amount2,omitempty"`
}

// DecodeEvent parses one relay frame and normalizes it. Unknown event
// types are rejected so the scheduler only ever sees types it can
// bucket.
func DecodeEvent(data []byte) (core.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return core.Event{}, fmt.Errorf("decode event: %w", err)
	}

	channel := strings.ToLower(strings.TrimSpace(w.Channel))
	if channel == "" {
		return core.Event{}, errors.New("decode event: channel is required")
	}

	typ := core.EventType(strings.ToLower(strings.TrimSpace(w.EventType)))
	if !typ.Known() {
		return core.Event{}, fmt.Errorf("decode event: unknown type %q", w.EventType)
	}

	date := time.Now().UTC()
	if w.Date > 0 {
		date = time.UnixMilli(w.Date).UTC()
	}

	if w.Amount < 0 {
		w.Amount = 0
	}
	if w.Amount2 < 0 {
		w.Amount2 = 0
	}

	return core.Event{
		ID:         w.ID,
		Channel:    channel,
		Username:   strings.TrimSpace(w.Username),
		UsernameTo: strings.TrimSpace(w.UsernameTo),
		Type:       typ,
		Date:       date,
		Text:       w.Text,
		Amount:     w.Amount,
		Amount2:    w.Amount2,
	}, nil
}
