package core

import "testing"

func TestEveryEventTypeHasMainType(t *testing.T) {
	for _, et := range EventTypes() {
		mt, ok := et.MainType()
		if !ok {
			t.Fatalf("event type %q has no main type", et)
		}
		if mt == "" {
			t.Fatalf("event type %q maps to empty main type", et)
		}
	}
}

func TestSubTiersCollapse(t *testing.T) {
	for _, et := range []EventType{EventSub, EventSubTier2, EventSubTier3} {
		mt, ok := et.MainType()
		if !ok || mt != MainSub {
			t.Fatalf("%q: got (%q, %v), want (%q, true)", et, mt, ok, MainSub)
		}
	}
	for _, et := range []EventType{EventGiftSub, EventGiftTier2, EventGiftTier3, EventGiftBomb} {
		mt, ok := et.MainType()
		if !ok || mt != MainGiftSub {
			t.Fatalf("%q: got (%q, %v), want (%q, true)", et, mt, ok, MainGiftSub)
		}
	}
}

func TestUnknownEventType(t *testing.T) {
	if EventType("bogus").Known() {
		t.Fatal("bogus type should not be known")
	}
	if _, ok := EventType("").MainType(); ok {
		t.Fatal("empty type should not resolve")
	}
}

func TestAmountOrZero(t *testing.T) {
	if got := (Event{Amount: -5}).AmountOrZero(); got != 0 {
		t.Fatalf("negative amount: got %v, want 0", got)
	}
	if got := (Event{Amount: 250}).AmountOrZero(); got != 250 {
		t.Fatalf("got %v, want 250", got)
	}
}

func TestConfigFileLookup(t *testing.T) {
	cfg := &ChannelAlertConfig{Files: map[string]Base64File{
		"jingle-1": {Mime: "audio/ogg", Data: "aGVsbG8="},
	}}
	if _, ok := cfg.File(""); ok {
		t.Fatal("empty ref must not resolve")
	}
	if _, ok := cfg.File("missing"); ok {
		t.Fatal("unknown ref must not resolve")
	}
	f, ok := cfg.File("jingle-1")
	if !ok || f.Mime != "audio/ogg" {
		t.Fatalf("got (%+v, %v)", f, ok)
	}
	var nilCfg *ChannelAlertConfig
	if b := nilCfg.Bucket(MainCheer); b != nil {
		t.Fatal("nil config bucket must be nil")
	}
}
