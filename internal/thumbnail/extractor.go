package thumbnail

import (
	"container/list"
	"context"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"github.com/eleven-am/splice/internal/source"
)

const (
	defaultThumbWidth  = 160
	defaultThumbHeight = 90
	defaultCacheSize   = 64

	// EndMargin keeps the last timestamp clear of end-of-stream decode failures.
	EndMargin = 0.1
)

type Options struct {
	Width     int
	Height    int
	CacheSize int
}

type key struct {
	uri      string
	count    int
	duration float64
}

type cached struct {
	key    key
	frames []image.Image
}

type Extractor struct {
	cache  *source.Cache
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	order *list.List
	items map[key]*list.Element
}

func NewExtractor(cache *source.Cache, opts Options, logger zerolog.Logger) *Extractor {
	if opts.Width == 0 {
		opts.Width = defaultThumbWidth
	}
	if opts.Height == 0 {
		opts.Height = defaultThumbHeight
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = defaultCacheSize
	}
	return &Extractor{
		cache:  cache,
		opts:   opts,
		logger: logger.With().Str("component", "thumbnails").Logger(),
		order:  list.New(),
		items:  make(map[key]*list.Element),
	}
}

// Timestamps spaces count samples evenly over duration, clamping each below
// duration-EndMargin.
func Timestamps(count int, duration float64) []float64 {
	if count <= 0 || duration <= 0 {
		return nil
	}
	limit := math.Max(0, duration-EndMargin)
	step := duration / float64(count)
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Min(float64(i)*step, limit)
	}
	return out
}

// Extract returns up to count thumbnails of uri. Timestamps that fail to
// decode are skipped; an unavailable source yields no frames.
func (e *Extractor) Extract(ctx context.Context, uri string, count int, duration float64) []image.Image {
	k := key{uri: uri, count: count, duration: duration}
	if frames, ok := e.get(k); ok {
		return frames
	}

	stamps := Timestamps(count, duration)
	if len(stamps) == 0 {
		return nil
	}

	h, err := e.cache.Acquire(ctx, uri)
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Msg("thumbnail source unavailable")
		return nil
	}
	defer h.Release()

	frames := make([]image.Image, 0, len(stamps))
	for _, ts := range stamps {
		if ctx.Err() != nil {
			return frames
		}
		img, err := h.Decoder().FrameAt(ctx, ts)
		if err != nil {
			e.logger.Debug().Err(err).Str("uri", uri).Float64("at", ts).Msg("thumbnail skipped")
			continue
		}
		frames = append(frames, Scale(img, e.opts.Width, e.opts.Height))
	}

	if len(frames) > 0 {
		e.put(k, frames)
	}
	return frames
}

func (e *Extractor) get(k key) ([]image.Image, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.items[k]
	if !ok {
		return nil, false
	}
	e.order.MoveToFront(el)
	return el.Value.(*cached).frames, true
}

func (e *Extractor) put(k key, frames []image.Image) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if el, ok := e.items[k]; ok {
		el.Value.(*cached).frames = frames
		e.order.MoveToFront(el)
		return
	}

	e.items[k] = e.order.PushFront(&cached{key: k, frames: frames})
	for e.order.Len() > e.opts.CacheSize {
		oldest := e.order.Back()
		e.order.Remove(oldest)
		delete(e.items, oldest.Value.(*cached).key)
	}
}

func (e *Extractor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order.Init()
	e.items = make(map[key]*list.Element)
}

func (e *Extractor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}

// Scale stretches src to exactly w x h.
func Scale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// Sheet tiles frames left to right, top to bottom, cols per row, on black.
func Sheet(frames []image.Image, cols int) *image.RGBA {
	if len(frames) == 0 || cols <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	cell := frames[0].Bounds()
	w, h := cell.Dx(), cell.Dy()
	if len(frames) < cols {
		cols = len(frames)
	}
	rows := (len(frames) + cols - 1) / cols

	sheet := image.NewRGBA(image.Rect(0, 0, cols*w, rows*h))
	xdraw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.Black), image.Point{}, xdraw.Src)
	for i, f := range frames {
		x := (i % cols) * w
		y := (i / cols) * h
		xdraw.ApproxBiLinear.Scale(sheet, image.Rect(x, y, x+w, y+h), f, f.Bounds(), xdraw.Src, nil)
	}
	return sheet
}
