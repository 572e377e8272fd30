package match

import (
	"math/rand"
	"testing"

	"github.com/you/gnasty-alerts/internal/core"
)

func newMatcher() *Matcher {
	return New(rand.New(rand.NewSource(1)))
}

func minRule(amount float64) core.AlertRule {
	return core.AlertRule{
		EventType: core.EventCheer,
		Specifier: core.AlertSpecifier{Kind: core.SpecMin, Amount: amount},
	}
}

func exactRule(amount float64) core.AlertRule {
	return core.AlertRule{
		EventType: core.EventCheer,
		Specifier: core.AlertSpecifier{Kind: core.SpecExact, Amount: amount},
	}
}

func cheerConfig(rules ...core.AlertRule) *core.ChannelAlertConfig {
	return &core.ChannelAlertConfig{
		Rules: map[core.EventMainType][]core.AlertRule{core.MainCheer: rules},
	}
}

func TestMinPicksLargestThresholdBelowAmount(t *testing.T) {
	cfg := cheerConfig(minRule(0), minRule(100), minRule(500))
	ev := core.Event{Type: core.EventCheer, Amount: 250}

	rule := newMatcher().Match(ev, cfg)
	if rule == nil {
		t.Fatal("expected a match")
	}
	if rule.Specifier.Amount != 100 {
		t.Fatalf("got threshold %v, want 100", rule.Specifier.Amount)
	}
}

func TestExactBeatsMin(t *testing.T) {
	cfg := cheerConfig(minRule(0), minRule(100), exactRule(250))
	ev := core.Event{Type: core.EventCheer, Amount: 250}

	rule := newMatcher().Match(ev, cfg)
	if rule == nil {
		t.Fatal("expected a match")
	}
	if rule.Specifier.Kind != core.SpecExact {
		t.Fatalf("got kind %q, want exact", rule.Specifier.Kind)
	}
}

func TestBelowEveryThresholdMatchesNothing(t *testing.T) {
	cfg := cheerConfig(minRule(100), minRule(500))
	ev := core.Event{Type: core.EventCheer, Amount: 50}

	if rule := newMatcher().Match(ev, cfg); rule != nil {
		t.Fatalf("expected no match, got %+v", rule)
	}
}

func TestAbsentAmountTreatedAsZero(t *testing.T) {
	cfg := cheerConfig(minRule(0), minRule(100))
	ev := core.Event{Type: core.EventCheer}

	rule := newMatcher().Match(ev, cfg)
	if rule == nil {
		t.Fatal("min 0 should act as catch-all for amount 0")
	}
	if rule.Specifier.Amount != 0 {
		t.Fatalf("got threshold %v, want 0", rule.Specifier.Amount)
	}
}

func TestEmptyConfigNeverMatches(t *testing.T) {
	m := newMatcher()
	ev := core.Event{Type: core.EventCheer, Amount: 100}

	if rule := m.Match(ev, nil); rule != nil {
		t.Fatal("nil config must not match")
	}
	if rule := m.Match(ev, &core.ChannelAlertConfig{}); rule != nil {
		t.Fatal("empty config must not match")
	}
}

func TestUnknownEventTypeNeverMatches(t *testing.T) {
	cfg := cheerConfig(minRule(0))
	ev := core.Event{Type: core.EventType("mystery"), Amount: 100}

	if rule := newMatcher().Match(ev, cfg); rule != nil {
		t.Fatal("unknown event type must not match")
	}
}

func TestSubTierSharesBucket(t *testing.T) {
	cfg := &core.ChannelAlertConfig{
		Rules: map[core.EventMainType][]core.AlertRule{
			core.MainSub: {{
				EventType: core.EventSub,
				Specifier: core.AlertSpecifier{Kind: core.SpecMin, Amount: 0},
			}},
		},
	}
	ev := core.Event{Type: core.EventSubTier3, Amount: 6}
	if rule := newMatcher().Match(ev, cfg); rule == nil {
		t.Fatal("tier-3 sub should resolve via the sub bucket")
	}
}

func TestTieBreakRoughlyUniform(t *testing.T) {
	a := minRule(100)
	a.Restriction = core.RestrictNone
	b := minRule(100)
	b.Restriction = core.RestrictMod
	cfg := cheerConfig(a, b)
	ev := core.Event{Type: core.EventCheer, Amount: 150}

	m := newMatcher()
	const trials = 10000
	var first int
	for i := 0; i < trials; i++ {
		rule := m.Match(ev, cfg)
		if rule == nil {
			t.Fatal("expected a match")
		}
		if rule.Restriction == core.RestrictNone {
			first++
		}
	}
	// Uniform pick over 2 candidates: expect roughly half, generous bounds.
	if first < trials*4/10 || first > trials*6/10 {
		t.Fatalf("tie-break skewed: %d/%d picks of first rule", first, trials)
	}
}
