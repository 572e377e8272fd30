// Package match resolves which configured alert rule, if any, applies to an
// incoming platform event.
package match

import (
	"math/rand"
	"sort"

	"github.com/you/gnasty-alerts/internal/core"
)

// Matcher selects rules from per-channel buckets. Ties between equally
// eligible rules are broken with a uniform random pick, so repeated identical
// events may legitimately play different variants.
type Matcher struct {
	rng *rand.Rand
}

// New returns a matcher using the given random source. Tests pass a seeded
// source to force determinism.
func New(rng *rand.Rand) *Matcher {
	return &Matcher{rng: rng}
}

// Match returns the rule to play for the event, or nil when no rule applies.
//
// Exact specifiers always win over min specifiers. Among min specifiers the
// largest configured threshold <= the event amount wins; an amount below
// every threshold matches nothing.
func (m *Matcher) Match(ev core.Event, cfg *core.ChannelAlertConfig) *core.AlertRule {
	mt, ok := ev.Type.MainType()
	if !ok {
		return nil
	}
	bucket := cfg.Bucket(mt)
	if len(bucket) == 0 {
		return nil
	}

	amount := ev.AmountOrZero()

	exact := make(map[float64][]int)
	min := make(map[float64][]int)
	for i, rule := range bucket {
		switch rule.Specifier.Kind {
		case core.SpecExact:
			exact[rule.Specifier.Amount] = append(exact[rule.Specifier.Amount], i)
		case core.SpecMin:
			min[rule.Specifier.Amount] = append(min[rule.Specifier.Amount], i)
		}
	}

	if hits := exact[amount]; len(hits) > 0 {
		return &bucket[m.pick(hits)]
	}

	thresholds := make([]float64, 0, len(min))
	for a := range min {
		if a <= amount {
			thresholds = append(thresholds, a)
		}
	}
	if len(thresholds) == 0 {
		return nil
	}
	sort.Float64s(thresholds)
	winner := thresholds[len(thresholds)-1]
	return &bucket[m.pick(min[winner])]
}

func (m *Matcher) pick(candidates []int) int {
	if len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[m.rng.Intn(len(candidates))]
}
