// Package export renders a timeline to an encoded MP4.
//
// Frames are produced one at a time in increasing timestamp order: the
// canvas is cleared to black, the active video item is decoded at its
// clip-local time and stretched over the canvas, and the canvas is handed to
// the sink. The audio mix is rendered once and written before the first frame.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/rendition"
	"github.com/eleven-am/splice/internal/source"
	"github.com/eleven-am/splice/internal/timeline"
)

var (
	ErrEmptyTimeline = errors.New("timeline has no duration")
	ErrEmptyOutput   = errors.New("export produced no output")
)

// Mixer renders the audio track for a whole timeline.
type Mixer interface {
	Render(ctx context.Context, layers []domain.Layer, total float64) (domain.AudioBuffer, error)
}

// FrameResolver decodes the frame an item shows at master time t.
type FrameResolver interface {
	ItemFrame(ctx context.Context, item domain.Item, t float64) domain.FrameResult
}

type Options struct {
	Video domain.VideoTrack
	Audio domain.AudioTrack
	// PrewarmConcurrency bounds concurrent decoder opens before the frame loop.
	PrewarmConcurrency int
}

type Pipeline struct {
	cache   *source.Cache
	frames  FrameResolver
	mixer   Mixer
	newSink func() domain.Sink
	opts    Options
	logger  zerolog.Logger
}

func NewPipeline(cache *source.Cache, frames FrameResolver, mixer Mixer, newSink func() domain.Sink, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Video.Width == 0 {
		opts.Video.Width = domain.OutputWidth
	}
	if opts.Video.Height == 0 {
		opts.Video.Height = domain.OutputHeight
	}
	if opts.Video.FPS == 0 {
		opts.Video.FPS = domain.OutputFPS
	}
	if opts.Audio.SampleRate == 0 {
		opts.Audio.SampleRate = domain.SampleRate
	}
	if opts.Audio.Channels == 0 {
		opts.Audio.Channels = domain.Channels
	}
	opts.Video.Bitrate = rendition.VideoBitrate(opts.Video.Height, opts.Video.Bitrate)
	opts.Audio.Bitrate = rendition.AudioBitrate(opts.Audio.Channels, opts.Audio.Bitrate)
	if opts.PrewarmConcurrency == 0 {
		opts.PrewarmConcurrency = 4
	}
	return &Pipeline{
		cache:   cache,
		frames:  frames,
		mixer:   mixer,
		newSink: newSink,
		opts:    opts,
		logger:  logger.With().Str("component", "export").Logger(),
	}
}

// Export renders layers and returns the encoded container. progress, when
// non-nil, receives integer percentages as they change, ending with 100.
func (p *Pipeline) Export(ctx context.Context, layers []domain.Layer, progress func(int)) ([]byte, error) {
	total := timeline.TotalDuration(layers)
	if total <= 0 {
		return nil, ErrEmptyTimeline
	}

	sink := p.newSink()
	if err := sink.Start(ctx, p.opts.Video, p.opts.Audio); err != nil {
		return nil, fmt.Errorf("start sink: %w", err)
	}
	finished := false
	defer func() {
		if !finished {
			sink.Abort()
		}
	}()

	mix, err := p.mixer.Render(ctx, layers, total)
	if err != nil {
		return nil, fmt.Errorf("mixdown: %w", err)
	}
	if err := sink.WriteAudio(mix); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}

	video, _ := timeline.VideoLayer(layers)
	handles := p.prewarm(ctx, video.Items)
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	if err := p.renderFrames(ctx, sink, video, total, progress); err != nil {
		return nil, err
	}

	data, err := sink.Finalize()
	finished = true
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyOutput
	}

	p.logger.Info().
		Float64("duration", total).
		Int("bytes", len(data)).
		Msg("export complete")
	return data, nil
}

func (p *Pipeline) renderFrames(ctx context.Context, sink domain.Sink, video domain.Layer, total float64, progress func(int)) error {
	fps := float64(p.opts.Video.FPS)
	count := timeline.FrameCount(total, p.opts.Video.FPS)
	frameDur := 1 / fps

	canvas := image.NewRGBA(image.Rect(0, 0, p.opts.Video.Width, p.opts.Video.Height))
	last := -1
	report := func(pct int) {
		if progress != nil && pct != last {
			last = pct
			progress(pct)
		}
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := float64(i) / fps
		p.compose(ctx, canvas, video, t)

		if err := sink.WriteFrame(canvas, t, frameDur); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
		report(int(math.Round(float64(i) / float64(count) * 100)))
	}

	report(100)
	return nil
}

// compose paints the frame for master time t. Gaps and unavailable items
// stay black.
func (p *Pipeline) compose(ctx context.Context, canvas *image.RGBA, video domain.Layer, t float64) {
	xdraw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, xdraw.Src)

	item, ok := timeline.ActiveItem(video, t)
	if !ok {
		return
	}
	res := p.frames.ItemFrame(ctx, item, t)
	if res.Kind != domain.FrameDecoded {
		return
	}

	src := res.Image.Bounds()
	if src.Dx() == canvas.Rect.Dx() && src.Dy() == canvas.Rect.Dy() {
		xdraw.Draw(canvas, canvas.Bounds(), res.Image, src.Min, xdraw.Src)
		return
	}
	xdraw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), res.Image, src, xdraw.Src, nil)
}

// prewarm opens decoders for every video item concurrently. Failures are
// logged and those items render black. The returned handles keep the
// decoders alive until the export ends.
func (p *Pipeline) prewarm(ctx context.Context, items []domain.Item) []*source.Handle {
	var (
		mu      sync.Mutex
		handles []*source.Handle
		seen    = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.PrewarmConcurrency)
	for _, item := range items {
		if item.Content == "" || seen[item.Content] {
			continue
		}
		seen[item.Content] = true
		uri := item.Content
		g.Go(func() error {
			h, err := p.cache.Acquire(gctx, uri)
			if err != nil {
				p.logger.Warn().Err(err).Str("uri", uri).Msg("video source unavailable, rendering black")
				return nil
			}
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return handles
}
