package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/source"
	"github.com/eleven-am/splice/internal/timeline"
)

type Options struct {
	SampleRate int
	Channels   int
	// DecodeTimeout bounds a single frame or audio decode. Zero means no limit.
	DecodeTimeout time.Duration
}

// Resolver turns "what is on this layer at time t" into a tagged result.
// All skip-and-continue decisions for preview, export and mixdown live here.
type Resolver struct {
	cache  *source.Cache
	audio  domain.AudioDecoder
	opts   Options
	logger zerolog.Logger

	mu         sync.Mutex
	audioCache map[string]audioEntry
	group      singleflight.Group
	// epoch invalidates audio decodes that were in flight when Clear ran.
	epoch uint64
}

type audioEntry struct {
	buf domain.AudioBuffer
	err error
}

func NewResolver(cache *source.Cache, audio domain.AudioDecoder, opts Options, logger zerolog.Logger) *Resolver {
	if opts.SampleRate == 0 {
		opts.SampleRate = domain.SampleRate
	}
	if opts.Channels == 0 {
		opts.Channels = domain.Channels
	}
	return &Resolver{
		cache:      cache,
		audio:      audio,
		opts:       opts,
		logger:     logger.With().Str("component", "resolver").Logger(),
		audioCache: make(map[string]audioEntry),
	}
}

// Frame resolves the video layer at master time t. The active clip is read at
// t - StartTime + TrimStart for preview and export alike.
func (r *Resolver) Frame(ctx context.Context, layers []domain.Layer, t float64) domain.FrameResult {
	video, ok := timeline.VideoLayer(layers)
	if !ok {
		return domain.FrameResult{Kind: domain.FrameBlack}
	}
	item, ok := timeline.ActiveItem(video, t)
	if !ok {
		return domain.FrameResult{Kind: domain.FrameBlack}
	}
	return r.ItemFrame(ctx, item, t)
}

func (r *Resolver) ItemFrame(ctx context.Context, item domain.Item, t float64) domain.FrameResult {
	result := domain.FrameResult{Item: &item, SourceTime: item.SourceTime(t)}
	if item.Content == "" {
		result.Kind = domain.FrameBlack
		return result
	}

	h, err := r.cache.Acquire(ctx, item.Content)
	if err != nil {
		result.Kind = domain.FrameUnavailable
		result.Err = err
		return result
	}
	defer h.Release()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	img, err := h.Decoder().FrameAt(ctx, result.SourceTime)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("item", item.ID).
			Float64("source_time", result.SourceTime).
			Msg("frame decode failed")
		result.Kind = domain.FrameUnavailable
		result.Err = err
		return result
	}

	result.Kind = domain.FrameDecoded
	result.Image = img
	return result
}

// Audio decodes the full source of an audio item. Slicing by trim and
// duration is left to the mixer. Decodes are cached per URI until Clear, and
// a URI that failed to decode stays unavailable without being retried.
func (r *Resolver) Audio(ctx context.Context, item domain.Item) domain.AudioResult {
	result := domain.AudioResult{Item: item}
	if item.Content == "" || item.Duration <= 0 {
		result.Kind = domain.AudioSilence
		return result
	}

	buf, err := r.decodeAudio(ctx, item.Content)
	if err != nil {
		result.Kind = domain.AudioUnavailable
		result.Err = err
		return result
	}

	result.Kind = domain.AudioDecoded
	result.Buffer = buf
	return result
}

func (r *Resolver) decodeAudio(ctx context.Context, uri string) (domain.AudioBuffer, error) {
	for {
		r.mu.Lock()
		e, ok := r.audioCache[uri]
		epoch := r.epoch
		r.mu.Unlock()
		if ok {
			return e.buf, e.err
		}

		_, _, _ = r.group.Do(uri, func() (interface{}, error) {
			r.fillAudio(ctx, uri, epoch)
			return nil, nil
		})

		if err := ctx.Err(); err != nil {
			return domain.AudioBuffer{}, err
		}
	}
}

func (r *Resolver) fillAudio(ctx context.Context, uri string, epoch uint64) {
	r.mu.Lock()
	_, exists := r.audioCache[uri]
	r.mu.Unlock()
	if exists {
		return
	}

	decodeCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	buf, err := r.audio.DecodeAudio(decodeCtx, uri, r.opts.SampleRate, r.opts.Channels)
	if err != nil && ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("uri", uri).Msg("audio decode failed, source will be silent")
		r.audioCache[uri] = audioEntry{err: err}
		return
	}
	r.audioCache[uri] = audioEntry{buf: buf}
}

// Clear drops every decoded audio source and remembered failure.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioCache = make(map[string]audioEntry)
	r.epoch++
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.DecodeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opts.DecodeTimeout)
}
