// Package playback drives interactive preview of a timeline.
//
// A Controller is either playing or paused at CurrentTime. While playing, a
// single loop goroutine measures wall-clock deltas and feeds them to Tick.
// Pause, Seek and Close may be called from any goroutine; each Play starts a
// new generation and ticks from an older generation are dropped, so no tick
// is applied after Pause or Close returns. Hooks are checked against the
// generation before each call, so none starts after Pause or Close returns;
// a hook already running at that moment is allowed to finish.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/timeline"
)

var ErrClosed = errors.New("playback controller closed")

const defaultInterval = time.Second / domain.OutputFPS

// AudioOutput is the host audio device. Play resumes it when suspended.
type AudioOutput interface {
	Suspended() bool
	Resume(ctx context.Context) error
}

// FrameSource resolves the picture shown at master time t.
type FrameSource interface {
	Frame(ctx context.Context, layers []domain.Layer, t float64) domain.FrameResult
}

// SampleSource mixes the audio heard in [t, t+window) of the timeline.
type SampleSource interface {
	Window(ctx context.Context, layers []domain.Layer, t, window float64) domain.AudioResult
}

type Options struct {
	// Interval between loop ticks. Defaults to one output frame.
	Interval time.Duration
	// Now is the wall clock used to measure tick deltas.
	Now    func() time.Time
	Audio   AudioOutput
	Frames  FrameSource
	Samples SampleSource
	Logger  zerolog.Logger
}

type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	layers  []domain.Layer
	state   domain.PlaybackState
	gen     uint64
	cancel  context.CancelFunc
	closed  bool
	onTime  func(float64)
	onFrame func(domain.FrameResult)
	onAudio func(domain.AudioResult)
}

func NewController(layers []domain.Layer, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "playback").Logger(),
	}
	c.setLayersLocked(layers)
	return c
}

// OnTimeUpdate registers the hook invoked with the new current time after a
// seek or an applied tick.
func (c *Controller) OnTimeUpdate(fn func(t float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTime = fn
}

// OnFrame registers the hook that receives the preview frame for the new
// current time. It is only called when a FrameSource is configured.
func (c *Controller) OnFrame(fn func(domain.FrameResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

// OnAudio registers the hook that receives one tick interval of mixed audio
// starting at the new current time. It is only called when a SampleSource is
// configured.
func (c *Controller) OnAudio(fn func(domain.AudioResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudio = fn
}

func (c *Controller) State() domain.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetLayers replaces the timeline and recomputes the duration. The current
// time is clamped into the new range.
func (c *Controller) SetLayers(layers []domain.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLayersLocked(layers)
}

func (c *Controller) setLayersLocked(layers []domain.Layer) {
	c.layers = layers
	c.state.Duration = timeline.TotalDuration(layers)
	c.state.CurrentTime = timeline.Clamp(c.state.CurrentTime, c.state.Duration)
}

func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.IsPlaying {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if a := c.opts.Audio; a != nil && a.Suspended() {
		if err := a.Resume(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.IsPlaying {
		return nil
	}

	c.state.IsPlaying = true
	c.gen++
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop(loopCtx, c.gen)

	c.logger.Debug().Float64("at", c.state.CurrentTime).Msg("playback started")
	return nil
}

func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.state.IsPlaying = false
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Seek moves the playhead to t clamped to [0, duration] without changing
// the play state.
func (c *Controller) Seek(t float64) {
	c.mu.Lock()
	c.state.CurrentTime = timeline.Clamp(t, c.state.Duration)
	now, gen := c.state.CurrentTime, c.gen
	c.mu.Unlock()

	c.notify(context.Background(), gen, now)
}

// Tick advances a playing controller by delta seconds. Reaching the end
// stops playback and rewinds to 0.
func (c *Controller) Tick(delta float64) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.tick(context.Background(), gen, delta)
}

func (c *Controller) tick(ctx context.Context, gen uint64, delta float64) bool {
	c.mu.Lock()
	if gen != c.gen || !c.state.IsPlaying {
		c.mu.Unlock()
		return false
	}

	c.state.CurrentTime += delta
	ended := c.state.CurrentTime >= c.state.Duration
	if ended {
		c.stopLocked()
		c.state.CurrentTime = 0
	}
	// the rewind notification belongs to the generation stopLocked started.
	now, gen := c.state.CurrentTime, c.gen
	c.mu.Unlock()

	if ended {
		c.logger.Debug().Msg("playback reached end")
	}
	c.notify(ctx, gen, now)
	return !ended
}

// notify runs the time, frame and audio hooks for t. Each hook is skipped
// once gen is stale.
func (c *Controller) notify(ctx context.Context, gen uint64, t float64) {
	c.mu.Lock()
	onTime, onFrame, onAudio, layers := c.onTime, c.onFrame, c.onAudio, c.layers
	c.mu.Unlock()

	if onTime != nil && c.current(gen) {
		onTime(t)
	}
	if onFrame != nil && c.opts.Frames != nil {
		frame := c.opts.Frames.Frame(ctx, layers, t)
		if c.current(gen) {
			onFrame(frame)
		}
	}
	if onAudio != nil && c.opts.Samples != nil {
		audio := c.opts.Samples.Window(ctx, layers, t, c.opts.Interval.Seconds())
		if c.current(gen) {
			onAudio(audio)
		}
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	last := c.opts.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.opts.Now()
			delta := now.Sub(last).Seconds()
			last = now
			if !c.tick(ctx, gen, delta) {
				return
			}
		}
	}
}

// Close stops playback. Later calls to Play return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.closed = true
}
