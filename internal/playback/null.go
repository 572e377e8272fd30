package playback

import (
	"sync"
	"time"
)

// NullOutput is a headless audio device: it renders nothing but honors
// realistic timing, estimating clip duration from the payload size. Used when
// alertd runs without a platform audio collaborator and in tests.
type NullOutput struct {
	// BytesPerSecond tunes the duration estimate; 16 KiB/s approximates
	// compressed speech/jingle audio. Zero selects the default.
	BytesPerSecond int
	// MaxDuration caps the estimate so corrupt payloads cannot stall the
	// engine. Zero selects the default of 30s.
	MaxDuration time.Duration
}

func (o *NullOutput) Play(mime string, data []byte, volume float64) (Handle, error) {
	bps := o.BytesPerSecond
	if bps <= 0 {
		bps = 16 << 10
	}
	max := o.MaxDuration
	if max <= 0 {
		max = 30 * time.Second
	}
	dur := time.Duration(len(data)) * time.Second / time.Duration(bps)
	if dur > max {
		dur = max
	}

	h := &nullHandle{dur: dur, done: make(chan struct{})}
	h.timer = time.AfterFunc(dur, h.Stop)
	return h, nil
}

type nullHandle struct {
	dur   time.Duration
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

func (h *nullHandle) Done() <-chan struct{}    { return h.done }
func (h *nullHandle) Duration() time.Duration { return h.dur }

func (h *nullHandle) Stop() {
	h.once.Do(func() {
		h.timer.Stop()
		close(h.done)
	})
}
