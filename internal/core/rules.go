package core

import "time"

// SpecifierKind selects the numeric matching mode for a rule.
type SpecifierKind string

const (
	// SpecExact matches only events whose amount equals the specifier amount.
	SpecExact SpecifierKind = "exact"
	// SpecMin matches events whose amount is >= the specifier amount, with
	// closest-below semantics across a rule bucket.
	SpecMin SpecifierKind = "min"
)

// AlertSpecifier is the numeric condition under which a rule applies.
type AlertSpecifier struct {
	Kind   SpecifierKind `json:"kind"`
	Amount float64       `json:"amount"`
}

// Restriction limits who may trigger a rule.
type Restriction string

const (
	RestrictNone   Restriction = "none"
	RestrictMod    Restriction = "mod"
	RestrictSystem Restriction = "system"
)

// TTSConfig describes the speech portion of an alert. Template supports
// {user}, {to}, {amount} and {text} placeholders.
type TTSConfig struct {
	Template       string `json:"template"`
	VoiceType      string `json:"voice_type"`
	VoiceSpecifier string `json:"voice_specifier"`
	VoiceParams    string `json:"voice_params,omitempty"`
}

// AudioConfig describes the audible portion of an alert: an optional
// pre-recorded jingle followed by optional synthesized speech.
type AudioConfig struct {
	JingleRef string     `json:"jingle_ref,omitempty"`
	TTS       *TTSConfig `json:"tts,omitempty"`
}

// VisualConfig references an overlay element shown alongside the audio.
type VisualConfig struct {
	ElementRef string `json:"element_ref"`
	Text       string `json:"text,omitempty"`
}

// AlertRule associates an event category and specifier with media to play.
// Multiple rules may share the same (type, specifier) pair; selection among
// ties is randomized by the matcher.
type AlertRule struct {
	EventType   EventType      `json:"event_type"`
	Specifier   AlertSpecifier `json:"specifier"`
	Restriction Restriction    `json:"restriction"`
	Audio       *AudioConfig   `json:"audio,omitempty"`
	Visual      *VisualConfig  `json:"visual,omitempty"`
}

// Base64File is embedded binary media addressed by an opaque ref.
type Base64File struct {
	Mime string `json:"mime"`
	Data string `json:"data"`
}

// ConfigMeta identifies one channel's configuration revision.
type ConfigMeta struct {
	Channel    string    `json:"channel"`
	Name       string    `json:"name"`
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	LastUpdate time.Time `json:"last_update"`
}

// ChannelAlertConfig is the per-channel bundle of rules and embedded media,
// loaded once and cached until the config hash changes.
type ChannelAlertConfig struct {
	Meta  ConfigMeta                    `json:"meta"`
	Rules map[EventMainType][]AlertRule `json:"rules"`
	Files map[string]Base64File         `json:"files"`
}

// Bucket returns the rule bucket for a main type, nil when absent.
func (c *ChannelAlertConfig) Bucket(mt EventMainType) []AlertRule {
	if c == nil || c.Rules == nil {
		return nil
	}
	return c.Rules[mt]
}

// File resolves an embedded media ref. The second return is false when the
// ref is empty or unknown.
func (c *ChannelAlertConfig) File(ref string) (Base64File, bool) {
	if c == nil || ref == "" {
		return Base64File{}, false
	}
	f, ok := c.Files[ref]
	return f, ok
}
