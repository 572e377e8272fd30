package playback

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Voice identifies one local synthesis voice.
type Voice struct {
	Name   string
	Locale string
}

// Synthesizer is the local in-process speech primitive (an external
// collaborator): it exposes installed voices and speaks through the platform
// audio device.
type Synthesizer interface {
	Voices() []Voice
	Speak(text string, voice Voice, volume float64) (Handle, error)
}

// TTSClient synthesizes speech remotely. The backend accepts a JSON request
// and answers with base64-encoded audio.
type TTSClient struct {
	url  string
	http *http.Client
}

func NewTTSClient(url string) *TTSClient {
	return &TTSClient{
		url:  strings.TrimSpace(url),
		http: &http.Client{Timeout: 20 * time.Second},
	}
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type ttsResponse struct {
	Mime  string `json:"mime"`
	Audio string `json:"audio"`
}

// Synthesize returns the rendered audio bytes for text.
func (c *TTSClient) Synthesize(ctx context.Context, text, voice string) (string, []byte, error) {
	if c == nil || c.url == "" {
		return "", nil, fmt.Errorf("tts: endpoint not configured")
	}
	payload, err := json.Marshal(ttsRequest{Text: text, Voice: voice})
	if err != nil {
		return "", nil, fmt.Errorf("tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", nil, fmt.Errorf("tts: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", nil, fmt.Errorf("tts: status %s", resp.Status)
	}

	var tr ttsResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", nil, fmt.Errorf("tts: decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(tr.Audio)
	if err != nil {
		return "", nil, fmt.Errorf("tts: decode audio: %w", err)
	}
	if tr.Mime == "" {
		tr.Mime = "audio/mpeg"
	}
	return tr.Mime, audio, nil
}

// SpeechRequest describes one utterance. VoiceType selects the backend
// ("remote" or "local"); empty prefers remote when configured.
type SpeechRequest struct {
	Text      string
	VoiceType string
	Voice     string
	Volume    float64
}

// SpeechPlayer renders utterances either through the remote TTS backend and
// the audio output, or through the local synthesizer with a language-matched
// voice chosen once at startup and reused for the session.
type SpeechPlayer struct {
	out      Output
	tts      *TTSClient
	synth    Synthesizer
	voice    Voice
	hasVoice bool
}

func NewSpeechPlayer(out Output, tts *TTSClient, synth Synthesizer, locale string, rng *rand.Rand) *SpeechPlayer {
	p := &SpeechPlayer{out: out, tts: tts, synth: synth}
	if synth != nil {
		all := synth.Voices()
		matching := make([]Voice, 0, len(all))
		for _, v := range all {
			if locale == "" || strings.HasPrefix(strings.ToLower(v.Locale), strings.ToLower(locale)) {
				matching = append(matching, v)
			}
		}
		if len(matching) == 0 {
			matching = all
		}
		if len(matching) > 0 {
			p.voice = matching[rng.Intn(len(matching))]
			p.hasVoice = true
			slog.Info("playback: session voice selected", "voice", p.voice.Name, "locale", p.voice.Locale)
		}
	}
	return p
}

// SessionVoice returns the locally selected voice, if any.
func (p *SpeechPlayer) SessionVoice() (Voice, bool) {
	return p.voice, p.hasVoice
}

// Speak renders the request. onEnd fires when playback completes or on any
// synthesis or playback error; it never hangs.
func (p *SpeechPlayer) Speak(req SpeechRequest, onStart, onEnd func()) *Playback {
	pb := newPlayback(onEnd)
	if onStart != nil {
		onStart()
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		pb.end()
		return pb
	}

	useRemote := p.tts != nil && req.VoiceType != "local"
	if useRemote {
		go p.speakRemote(pb, text, req.Voice, req.Volume)
		return pb
	}
	if p.synth == nil || !p.hasVoice {
		pb.end()
		return pb
	}

	handle, err := p.synth.Speak(text, p.voice, req.Volume)
	if err != nil {
		slog.Warn("playback: local speech failed", "err", err)
		pb.end()
		return pb
	}
	pb.attach(handle.Stop)
	go waitHandle(pb, handle)
	return pb
}

func (p *SpeechPlayer) speakRemote(pb *Playback, text, voice string, volume float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mime, audio, err := p.tts.Synthesize(ctx, text, voice)
	if err != nil {
		slog.Warn("playback: remote synthesis failed", "err", err)
		pb.end()
		return
	}
	if pb.Ended() {
		return
	}

	handle, err := p.out.Play(mime, audio, volume)
	if err != nil {
		slog.Warn("playback: speech playback failed", "err", err)
		pb.end()
		return
	}
	pb.attach(handle.Stop)
	waitHandle(pb, handle)
}

func waitHandle(pb *Playback, handle Handle) {
	select {
	case <-handle.Done():
	case <-pb.cancelled:
	}
	pb.end()
}
