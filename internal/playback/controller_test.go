package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
)

func tenSecondTimeline() []domain.Layer {
	return []domain.Layer{{
		ID:   "v",
		Type: domain.LayerVideo,
		Items: []domain.Item{
			{ID: "a", Content: "a.mp4", StartTime: 0, Duration: 5},
			{ID: "b", Content: "b.mp4", StartTime: 5, Duration: 5},
		},
	}}
}

// frozenClock never advances so loop ticks apply a zero delta.
func frozenClock() func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time { return t }
}

// steppingClock advances by step on every read.
func steppingClock(step time.Duration) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return time.Unix(0, 0).Add(time.Duration(n.Add(1)) * step)
	}
}

type stubAudio struct {
	suspended bool
	resumed   int
	err       error
}

func (a *stubAudio) Suspended() bool { return a.suspended }
func (a *stubAudio) Resume(ctx context.Context) error {
	a.resumed++
	if a.err != nil {
		return a.err
	}
	a.suspended = false
	return nil
}

type stubFrames struct {
	mu    sync.Mutex
	times []float64
}

func (f *stubFrames) Frame(ctx context.Context, layers []domain.Layer, t float64) domain.FrameResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, t)
	return domain.FrameResult{Kind: domain.FrameBlack, SourceTime: t}
}

type windowRequest struct {
	t, window float64
}

type stubSamples struct {
	mu       sync.Mutex
	requests []windowRequest
}

func (s *stubSamples) Window(ctx context.Context, layers []domain.Layer, t, window float64) domain.AudioResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, windowRequest{t, window})
	return domain.AudioResult{Kind: domain.AudioSilence}
}

func (s *stubSamples) last() windowRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return windowRequest{-1, -1}
	}
	return s.requests[len(s.requests)-1]
}

func TestSeekClampsToTimeline(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Logger: zerolog.Nop()})
	var updates []float64
	c.OnTimeUpdate(func(t float64) { updates = append(updates, t) })

	c.Seek(-5)
	if got := c.State().CurrentTime; got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
	c.Seek(99)
	if got := c.State().CurrentTime; got != 10 {
		t.Fatalf("expected clamp to 10, got %v", got)
	}
	c.Seek(4.2)
	if got := c.State().CurrentTime; got != 4.2 {
		t.Fatalf("expected 4.2, got %v", got)
	}
	if len(updates) != 3 || updates[1] != 10 {
		t.Fatalf("every seek should notify, got %v", updates)
	}
	if c.State().IsPlaying {
		t.Fatalf("seek must not start playback")
	}
}

func TestTickPastEndStopsAndRewinds(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Logger: zerolog.Nop()})
	defer c.Close()

	c.Seek(9.95)
	if err := c.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	c.Tick(0.1)

	st := c.State()
	if st.IsPlaying || st.CurrentTime != 0 {
		t.Fatalf("expected stopped at 0, got %+v", st)
	}

	c.Tick(1)
	if got := c.State().CurrentTime; got != 0 {
		t.Fatalf("tick while stopped must not advance, got %v", got)
	}
}

func TestTickAdvancesAndNotifies(t *testing.T) {
	frames := &stubFrames{}
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Frames: frames, Logger: zerolog.Nop()})
	defer c.Close()

	var mu sync.Mutex
	var got []domain.FrameResult
	c.OnFrame(func(r domain.FrameResult) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	})

	_ = c.Play(context.Background())
	c.Tick(0.5)
	c.Tick(0.25)

	if now := c.State().CurrentTime; now != 0.75 {
		t.Fatalf("expected 0.75, got %v", now)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) < 2 || got[len(got)-1].SourceTime != 0.75 {
		t.Fatalf("frame hook should see the new time, got %v", got)
	}
}

func TestPlayResumesSuspendedAudio(t *testing.T) {
	audio := &stubAudio{suspended: true}
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Audio: audio, Logger: zerolog.Nop()})
	defer c.Close()

	if err := c.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if audio.resumed != 1 || audio.suspended {
		t.Fatalf("expected audio to be resumed once")
	}
	_ = c.Play(context.Background())
	if audio.resumed != 1 {
		t.Fatalf("second play should be a no-op")
	}
}

func TestPlayFailsWhenAudioCannotResume(t *testing.T) {
	audio := &stubAudio{suspended: true, err: errors.New("device busy")}
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Audio: audio, Logger: zerolog.Nop()})
	defer c.Close()

	if err := c.Play(context.Background()); err == nil {
		t.Fatalf("expected resume error")
	}
	if c.State().IsPlaying {
		t.Fatalf("controller should stay paused")
	}
}

func TestLoopRunsToEnd(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{
		Interval: time.Millisecond,
		Now:      steppingClock(time.Second),
		Logger:   zerolog.Nop(),
	})
	defer c.Close()

	if err := c.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for c.State().IsPlaying {
		select {
		case <-deadline:
			t.Fatalf("loop never reached the end: %+v", c.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if got := c.State().CurrentTime; got != 0 {
		t.Fatalf("expected rewind to 0, got %v", got)
	}
}

func TestNoTicksAfterPause(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{
		Interval: time.Millisecond,
		Now:      steppingClock(time.Millisecond),
		Logger:   zerolog.Nop(),
	})
	defer c.Close()

	var ticks atomic.Int64
	c.OnTimeUpdate(func(float64) { ticks.Add(1) })

	_ = c.Play(context.Background())
	time.Sleep(20 * time.Millisecond)
	c.Pause()
	paused := c.State().CurrentTime
	seen := ticks.Load()

	time.Sleep(20 * time.Millisecond)
	if got := c.State().CurrentTime; got != paused {
		t.Fatalf("time moved after pause: %v -> %v", paused, got)
	}
	// one hook may already have been running when Pause took the lock
	if got := ticks.Load(); got > seen+1 {
		t.Fatalf("ticks fired after pause: %d -> %d", seen, got)
	}
}

func TestSetLayersClampsCurrentTime(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Logger: zerolog.Nop()})
	c.Seek(8)
	c.SetLayers([]domain.Layer{{ID: "v", Type: domain.LayerVideo, Items: []domain.Item{{ID: "a", StartTime: 0, Duration: 3}}}})

	st := c.State()
	if st.Duration != 3 || st.CurrentTime != 3 {
		t.Fatalf("expected duration 3 and clamped time, got %+v", st)
	}
}

func TestPlayAfterCloseFails(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{Now: frozenClock(), Logger: zerolog.Nop()})
	c.Close()
	if err := c.Play(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestAudioWindowFollowsCurrentTime(t *testing.T) {
	samples := &stubSamples{}
	c := NewController(tenSecondTimeline(), Options{
		Interval: time.Hour,
		Now:      frozenClock(),
		Samples:  samples,
		Logger:   zerolog.Nop(),
	})
	defer c.Close()

	var mu sync.Mutex
	var heard []domain.AudioResult
	c.OnAudio(func(r domain.AudioResult) {
		mu.Lock()
		defer mu.Unlock()
		heard = append(heard, r)
	})

	c.Seek(2.5)
	if got := samples.last(); got != (windowRequest{2.5, 3600}) {
		t.Fatalf("seek should request one interval at 2.5, got %+v", got)
	}

	_ = c.Play(context.Background())
	c.Tick(0.5)
	if got := samples.last(); got.t != 3 {
		t.Fatalf("tick should request audio at the new time, got %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(heard) != 2 || heard[1].Kind != domain.AudioSilence {
		t.Fatalf("expected two audio results, got %d", len(heard))
	}
}

func TestPauseInsideTimeHookSkipsLaterHooks(t *testing.T) {
	frames := &stubFrames{}
	samples := &stubSamples{}
	c := NewController(tenSecondTimeline(), Options{
		Interval: time.Hour,
		Now:      frozenClock(),
		Frames:   frames,
		Samples:  samples,
		Logger:   zerolog.Nop(),
	})
	defer c.Close()

	var framesSeen, audioSeen int
	c.OnFrame(func(domain.FrameResult) { framesSeen++ })
	c.OnAudio(func(domain.AudioResult) { audioSeen++ })
	c.OnTimeUpdate(func(float64) { c.Pause() })

	_ = c.Play(context.Background())
	c.Tick(0.5)

	if framesSeen != 0 || audioSeen != 0 {
		t.Fatalf("hooks ran after pause returned: frames=%d audio=%d", framesSeen, audioSeen)
	}
	if c.State().IsPlaying {
		t.Fatalf("expected paused")
	}
}

func TestRewindAtEndStillNotifies(t *testing.T) {
	c := NewController(tenSecondTimeline(), Options{Interval: time.Hour, Now: frozenClock(), Logger: zerolog.Nop()})
	defer c.Close()

	var updates []float64
	c.Seek(9.95)
	c.OnTimeUpdate(func(t float64) { updates = append(updates, t) })
	_ = c.Play(context.Background())
	c.Tick(0.1)

	if len(updates) != 1 || updates[0] != 0 {
		t.Fatalf("expected one rewind notification at 0, got %v", updates)
	}
}
