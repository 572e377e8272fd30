// Package playback provides the low-level primitives that render one audio
// clip or one synthesized utterance and signal completion exactly once.
package playback

import (
	"log/slog"
	"sync"
	"time"
)

// Handle represents one in-flight platform playback.
type Handle interface {
	// Done is closed when the underlying audio finishes or is stopped.
	Done() <-chan struct{}
	// Stop halts playback. Idempotent.
	Stop()
	// Duration reports the decoded media duration, zero when unknown.
	Duration() time.Duration
}

// Output is the platform audio primitive (an external collaborator): it
// starts playback of raw encoded media at a volume and hands back a Handle.
type Output interface {
	Play(mime string, data []byte, volume float64) (Handle, error)
}

// Playback tracks one alert stage and guarantees its completion callback
// fires exactly once, even when natural completion races with Cancel.
type Playback struct {
	mu        sync.Mutex
	ended     bool
	stop      func()
	onEnd     func()
	cancelled chan struct{}
}

func newPlayback(onEnd func()) *Playback {
	return &Playback{onEnd: onEnd, cancelled: make(chan struct{})}
}

func (p *Playback) attach(stop func()) {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		if stop != nil {
			stop()
		}
		return
	}
	p.stop = stop
	p.mu.Unlock()
}

func (p *Playback) end() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	onEnd := p.onEnd
	p.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

// Cancel stops the underlying audio and completes immediately. Safe to call
// at any time, from any goroutine, and more than once.
func (p *Playback) Cancel() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.cancelled:
	default:
		close(p.cancelled)
	}
	stop := p.stop
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
	p.end()
}

// Ended reports whether the completion callback has fired.
func (p *Playback) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Clip is one pre-recorded media payload plus playback parameters. MinHold is
// the minimum time before completion fires even when the media is shorter,
// so short jingles do not truncate the perceived alert.
type Clip struct {
	Mime    string
	Data    []byte
	MinHold time.Duration
	Volume  float64
}

// ClipPlayer renders clips through the platform audio output.
type ClipPlayer struct {
	out Output
}

func NewClipPlayer(out Output) *ClipPlayer {
	return &ClipPlayer{out: out}
}

// Play starts the clip. onStart fires synchronously before playback begins;
// onEnd fires after max(actual duration, MinHold). An empty clip or a
// playback error is treated as a zero-length alert: both callbacks fire
// immediately and the scheduler is never left blocked.
func (p *ClipPlayer) Play(clip Clip, onStart, onEnd func()) *Playback {
	pb := newPlayback(onEnd)
	if onStart != nil {
		onStart()
	}

	if len(clip.Data) == 0 {
		pb.end()
		return pb
	}

	handle, err := p.out.Play(clip.Mime, clip.Data, clip.Volume)
	if err != nil {
		slog.Warn("playback: clip start failed", "mime", clip.Mime, "err", err)
		pb.end()
		return pb
	}
	pb.attach(handle.Stop)

	go func() {
		hold := time.NewTimer(clip.MinHold)
		defer hold.Stop()
		select {
		case <-handle.Done():
		case <-pb.cancelled:
		}
		select {
		case <-hold.C:
		case <-pb.cancelled:
		}
		pb.end()
	}()
	return pb
}
