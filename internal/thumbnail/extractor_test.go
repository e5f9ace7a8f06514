package thumbnail

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/source"
)

type stubDecoder struct {
	mu       sync.Mutex
	requests []float64
	failAt   map[float64]bool
}

func (d *stubDecoder) Info() domain.MediaInfo { return domain.MediaInfo{HasVideo: true} }
func (d *stubDecoder) FrameAt(ctx context.Context, seconds float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, seconds)
	if d.failAt[seconds] {
		return nil, errors.New("decode error")
	}
	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img, nil
}
func (d *stubDecoder) Close() error { return nil }

type stubOpener struct {
	dec   *stubDecoder
	opens int
}

func (o *stubOpener) Open(ctx context.Context, uri string) (domain.Decoder, error) {
	o.opens++
	if uri == "missing.mp4" {
		return nil, errors.New("404")
	}
	return o.dec, nil
}

func TestTimestampsEvenlySpacedAndClamped(t *testing.T) {
	got := Timestamps(5, 10)
	want := []float64{0, 2, 4, 6, 8}
	if len(got) != len(want) {
		t.Fatalf("expected %d timestamps, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] || got[i] >= 10 {
			t.Fatalf("timestamp %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	short := Timestamps(4, 0.1)
	for _, ts := range short {
		if ts >= 0.1 {
			t.Fatalf("timestamps must stay below duration: %v", short)
		}
	}

	if Timestamps(0, 10) != nil || Timestamps(3, 0) != nil {
		t.Fatalf("degenerate inputs should produce no timestamps")
	}
}

func TestExtractScalesAndRequestsTimestamps(t *testing.T) {
	dec := &stubDecoder{}
	ex := NewExtractor(source.NewCache(&stubOpener{dec: dec}, zerolog.Nop()), Options{Width: 16, Height: 9}, zerolog.Nop())

	frames := ex.Extract(context.Background(), "a.mp4", 5, 10)
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	if b := frames[0].Bounds(); b.Dx() != 16 || b.Dy() != 9 {
		t.Fatalf("frames should be scaled to thumbnail size, got %v", b)
	}
	want := []float64{0, 2, 4, 6, 8}
	for i, ts := range dec.requests {
		if ts != want[i] {
			t.Fatalf("request %d: expected %v, got %v", i, want[i], ts)
		}
	}
}

func TestExtractSkipsFailedFrames(t *testing.T) {
	dec := &stubDecoder{failAt: map[float64]bool{4: true}}
	ex := NewExtractor(source.NewCache(&stubOpener{dec: dec}, zerolog.Nop()), Options{}, zerolog.Nop())

	frames := ex.Extract(context.Background(), "a.mp4", 5, 10)
	if len(frames) != 4 {
		t.Fatalf("expected one frame dropped, got %d", len(frames))
	}
}

func TestExtractUnavailableSourceYieldsNothing(t *testing.T) {
	ex := NewExtractor(source.NewCache(&stubOpener{dec: &stubDecoder{}}, zerolog.Nop()), Options{}, zerolog.Nop())
	if frames := ex.Extract(context.Background(), "missing.mp4", 5, 10); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
}

func TestExtractCachesByURICountAndDuration(t *testing.T) {
	dec := &stubDecoder{}
	ex := NewExtractor(source.NewCache(&stubOpener{dec: dec}, zerolog.Nop()), Options{}, zerolog.Nop())
	ctx := context.Background()

	ex.Extract(ctx, "a.mp4", 5, 10)
	ex.Extract(ctx, "a.mp4", 5, 10)
	if len(dec.requests) != 5 {
		t.Fatalf("second call should be served from cache, got %d decodes", len(dec.requests))
	}

	ex.Extract(ctx, "a.mp4", 4, 10)
	if len(dec.requests) != 9 {
		t.Fatalf("different density is a different key, got %d decodes", len(dec.requests))
	}

	ex.Clear()
	ex.Extract(ctx, "a.mp4", 5, 10)
	if len(dec.requests) != 14 {
		t.Fatalf("clear should drop cached thumbnails, got %d decodes", len(dec.requests))
	}
}

func TestExtractEvictsLeastRecentlyUsed(t *testing.T) {
	dec := &stubDecoder{}
	ex := NewExtractor(source.NewCache(&stubOpener{dec: dec}, zerolog.Nop()), Options{CacheSize: 2}, zerolog.Nop())
	ctx := context.Background()

	ex.Extract(ctx, "a.mp4", 1, 10)
	ex.Extract(ctx, "a.mp4", 2, 10)
	ex.Extract(ctx, "a.mp4", 1, 10)
	ex.Extract(ctx, "a.mp4", 3, 10)

	if ex.Len() != 2 {
		t.Fatalf("cache should be bounded at 2, got %d", ex.Len())
	}
	before := len(dec.requests)
	ex.Extract(ctx, "a.mp4", 1, 10)
	if len(dec.requests) != before {
		t.Fatalf("recently used entry should survive eviction")
	}
	ex.Extract(ctx, "a.mp4", 2, 10)
	if len(dec.requests) == before {
		t.Fatalf("least recently used entry should have been evicted")
	}
}

func TestSheetTilesFrames(t *testing.T) {
	frames := make([]image.Image, 5)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, 10, 5))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+3] = 255, 255
		}
		frames[i] = img
	}

	sheet := Sheet(frames, 3)
	if b := sheet.Bounds(); b.Dx() != 30 || b.Dy() != 10 {
		t.Fatalf("expected 3x2 grid of 10x5, got %v", b)
	}
	if got := sheet.RGBAAt(25, 7); got != (color.RGBA{A: 255}) {
		t.Fatalf("unused cell should be black, got %v", got)
	}
	if got := sheet.RGBAAt(15, 7); got.R != 255 {
		t.Fatalf("fifth frame should land in row 2 col 2, got %v", got)
	}
}
