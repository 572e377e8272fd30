package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/you/gnasty-alerts/internal/core"
)

func TestDecodeEventNormalizes(t *testing.T) {
	data := []byte(`{"id":7,"channel":" Streamer ","username":" wug ","event_type":"CHEER","date":1756400000000,"amount":100}`)
	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Channel != "streamer" {
		t.Fatalf("channel %q", ev.Channel)
	}
	if ev.Username != "wug" {
		t.Fatalf("username %q", ev.Username)
	}
	if ev.Type != core.EventCheer {
		t.Fatalf("type %q", ev.Type)
	}
	if ev.Amount != 100 {
		t.Fatalf("amount %v", ev.Amount)
	}
	want := time.UnixMilli(1756400000000).UTC()
	if !ev.Date.Equal(want) {
		t.Fatalf("date %v, want %v", ev.Date, want)
	}
}

func TestDecodeEventDefaultsDate(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ev, err := DecodeEvent([]byte(`{"id":1,"channel":"streamer","event_type":"follow"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Date.Before(before) {
		t.Fatalf("date not defaulted: %v", ev.Date)
	}
}

func TestDecodeEventClampsNegativeAmounts(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":2,"channel":"streamer","event_type":"donation","amount":-5,"amount2":-1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Amount != 0 || ev.Amount2 != 0 {
		t.Fatalf("amounts not clamped: %v %v", ev.Amount, ev.Amount2)
	}
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"id":3,"channel":"streamer","event_type":"mystery"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeEventRequiresChannel(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"id":4,"event_type":"follow"}`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeEventRejectsBadJSON(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{`)); err == nil {
		t.Fatal("expected error")
	}
}
