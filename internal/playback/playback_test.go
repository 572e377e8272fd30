package playback

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeOutput completes playback when release is called (or immediately when
// instant is set).
type fakeOutput struct {
	mu      sync.Mutex
	handles []*fakeHandle
	failErr error
	instant bool
}

type fakeHandle struct {
	once    sync.Once
	done    chan struct{}
	stopped atomic.Bool
}

func (h *fakeHandle) Done() <-chan struct{}    { return h.done }
func (h *fakeHandle) Duration() time.Duration { return 0 }
func (h *fakeHandle) Stop() {
	h.stopped.Store(true)
	h.release()
}
func (h *fakeHandle) release() {
	h.once.Do(func() { close(h.done) })
}

func (o *fakeOutput) Play(mime string, data []byte, volume float64) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failErr != nil {
		return nil, o.failErr
	}
	h := &fakeHandle{done: make(chan struct{})}
	if o.instant {
		h.release()
	}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *fakeOutput) last() *fakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.handles) == 0 {
		return nil
	}
	return o.handles[len(o.handles)-1]
}

func TestEmptyClipFiresCallbacksSynchronously(t *testing.T) {
	p := NewClipPlayer(&fakeOutput{})
	var started, ended bool
	pb := p.Play(Clip{}, func() { started = true }, func() { ended = true })
	if !started || !ended {
		t.Fatalf("started=%v ended=%v, want both true synchronously", started, ended)
	}
	if !pb.Ended() {
		t.Fatal("playback should report ended")
	}
}

func TestPlayErrorStillEnds(t *testing.T) {
	p := NewClipPlayer(&fakeOutput{failErr: fmt.Errorf("no device")})
	ended := make(chan struct{})
	p.Play(Clip{Data: []byte{1, 2, 3}}, nil, func() { close(ended) })
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("onEnd must fire on playback error")
	}
}

func TestMinHoldDelaysCompletion(t *testing.T) {
	out := &fakeOutput{instant: true}
	p := NewClipPlayer(out)

	start := time.Now()
	ended := make(chan struct{})
	p.Play(Clip{Data: []byte{1}, MinHold: 80 * time.Millisecond}, nil, func() { close(ended) })

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("onEnd never fired")
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("completed after %s, want at least the 80ms hold", elapsed)
	}
}

func TestCompletionWaitsForActualDuration(t *testing.T) {
	out := &fakeOutput{}
	p := NewClipPlayer(out)

	var ends atomic.Int32
	p.Play(Clip{Data: []byte{1}, MinHold: time.Millisecond}, nil, func() { ends.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if ends.Load() != 0 {
		t.Fatal("onEnd fired before the media finished")
	}
	out.last().release()
	deadline := time.Now().Add(time.Second)
	for ends.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ends.Load() != 1 {
		t.Fatalf("onEnd fired %d times, want 1", ends.Load())
	}
}

func TestCancelStopsAudioAndEndsOnce(t *testing.T) {
	out := &fakeOutput{}
	p := NewClipPlayer(out)

	var ends atomic.Int32
	pb := p.Play(Clip{Data: []byte{1}, MinHold: time.Hour}, nil, func() { ends.Add(1) })

	pb.Cancel()
	pb.Cancel()
	if ends.Load() != 1 {
		t.Fatalf("onEnd fired %d times, want exactly 1", ends.Load())
	}
	if !out.last().stopped.Load() {
		t.Fatal("cancel must stop the underlying audio")
	}

	// The hold goroutine waking later must not fire onEnd again.
	time.Sleep(30 * time.Millisecond)
	if ends.Load() != 1 {
		t.Fatalf("stale completion re-fired onEnd: %d", ends.Load())
	}
}

func TestNullOutputEstimatesDuration(t *testing.T) {
	out := &NullOutput{BytesPerSecond: 1 << 20, MaxDuration: time.Second}
	h, err := out.Play("audio/ogg", make([]byte, 1<<19), 1)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if h.Duration() != 500*time.Millisecond {
		t.Fatalf("duration %s, want 500ms", h.Duration())
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("null handle never completed")
	}
}
