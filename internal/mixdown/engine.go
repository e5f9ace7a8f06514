package mixdown

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/timeline"
)

const (
	DefaultDuckLevel = 0.35
	DefaultDuckRamp  = 0.25
)

// AudioSource decodes the full source of one audio item.
type AudioSource interface {
	Audio(ctx context.Context, item domain.Item) domain.AudioResult
}

type Options struct {
	SampleRate int
	Channels   int
	// DuckLevel is the music gain while a voiceover plays. 1 disables ducking.
	DuckLevel float64
	// DuckRamp is the length in seconds of the linear duck in and out ramps.
	DuckRamp float64
}

type Engine struct {
	source AudioSource
	opts   Options
	logger zerolog.Logger
}

func NewEngine(source AudioSource, opts Options, logger zerolog.Logger) *Engine {
	if opts.SampleRate == 0 {
		opts.SampleRate = domain.SampleRate
	}
	if opts.Channels == 0 {
		opts.Channels = domain.Channels
	}
	if opts.DuckLevel <= 0 || opts.DuckLevel > 1 {
		opts.DuckLevel = DefaultDuckLevel
	}
	if opts.DuckRamp <= 0 {
		opts.DuckRamp = DefaultDuckRamp
	}
	return &Engine{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "mixdown").Logger(),
	}
}

type placed struct {
	item  domain.Item
	layer domain.LayerType
	buf   domain.AudioBuffer
}

// Render mixes every voiceover and music item into one interleaved buffer of
// exactly round(total*SampleRate) frames. Items that fail to decode are
// silent. The only error is a cancelled context, returned together with the
// partial mix.
func (e *Engine) Render(ctx context.Context, layers []domain.Layer, total float64) (domain.AudioBuffer, error) {
	frames := int(math.Round(math.Max(0, total) * float64(e.opts.SampleRate)))
	out := domain.NewAudioBuffer(e.opts.SampleRate, e.opts.Channels, frames)
	if frames == 0 {
		return out, nil
	}

	sources, err := e.decode(ctx, layers)
	if err != nil {
		return out, err
	}

	var voice [][2]float64
	hasMusic := false
	for _, p := range sources {
		switch p.layer {
		case domain.LayerVoiceover:
			voice = append(voice, interval(p.item))
		case domain.LayerMusic:
			hasMusic = true
		}
	}

	var music []float32
	if hasMusic {
		music = e.musicEnvelope(frames, total, voice)
	}

	for _, p := range sources {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var gain []float32
		if p.layer == domain.LayerMusic {
			gain = music
		}
		e.place(out, p, gain)
	}

	clampSamples(out.Samples)
	e.logger.Debug().
		Int("items", len(sources)).
		Float64("seconds", out.Seconds()).
		Msg("mixdown rendered")
	return out, nil
}

// decode resolves every voiceover and music item once per distinct URI.
func (e *Engine) decode(ctx context.Context, layers []domain.Layer) ([]placed, error) {
	seen := make(map[string]domain.AudioResult)
	var out []placed
	for _, typ := range audioLayers {
		for _, layer := range timeline.LayersOfType(layers, typ) {
			for _, item := range layer.Items {
				if err := ctx.Err(); err != nil {
					return out, err
				}
				if item.Content == "" || item.Duration <= 0 {
					continue
				}
				res, ok := seen[item.Content]
				if !ok {
					res = e.source.Audio(ctx, item)
					seen[item.Content] = res
				}
				if res.Kind != domain.AudioDecoded {
					continue
				}
				out = append(out, placed{item: item, layer: typ, buf: res.Buffer})
			}
		}
	}
	return out, nil
}

// Window mixes the audio heard in [t, t+window) for preview: every voiceover
// and music item active at t, read from item.SourceTime(t), with the same
// fade and duck gains as Render. Kind is Silence when nothing audible is
// active and Unavailable when every active item failed to decode.
func (e *Engine) Window(ctx context.Context, layers []domain.Layer, t, window float64) domain.AudioResult {
	sr := float64(e.opts.SampleRate)
	total := timeline.TotalDuration(layers)
	frames := int(math.Round(math.Max(0, math.Min(window, total-t)) * sr))
	result := domain.AudioResult{
		Kind:   domain.AudioSilence,
		Buffer: domain.NewAudioBuffer(e.opts.SampleRate, e.opts.Channels, frames),
	}
	if frames <= 0 {
		return result
	}

	var voice [][2]float64
	for _, layer := range timeline.LayersOfType(layers, domain.LayerVoiceover) {
		for _, item := range layer.Items {
			if item.Content == "" || item.Duration <= 0 {
				continue
			}
			if e.source.Audio(ctx, item).Kind == domain.AudioDecoded {
				voice = append(voice, interval(item))
			}
		}
	}

	active := 0
	for _, typ := range audioLayers {
		for _, layer := range timeline.LayersOfType(layers, typ) {
			for _, item := range timeline.ActiveItems(layer, t) {
				if item.Content == "" {
					continue
				}
				active++
				res := e.source.Audio(ctx, item)
				if res.Kind != domain.AudioDecoded {
					if result.Err == nil {
						result.Err = res.Err
					}
					continue
				}
				e.placeWindow(result.Buffer, placed{item: item, layer: typ, buf: res.Buffer}, t, total, voice)
				result.Kind = domain.AudioDecoded
			}
		}
	}

	if result.Kind != domain.AudioDecoded && active > 0 {
		result.Kind = domain.AudioUnavailable
	}
	clampSamples(result.Buffer.Samples)
	return result
}

// placeWindow adds the part of p that falls in a window starting at master
// time t, using the same sample indexing as place.
func (e *Engine) placeWindow(out domain.AudioBuffer, p placed, t, total float64, voice [][2]float64) {
	sr := float64(e.opts.SampleRate)
	ch := out.Channels
	srcCh := p.buf.Channels
	if srcCh == 0 {
		return
	}

	base := int(math.Round(t * sr))
	start := int(math.Round(p.item.StartTime * sr))
	offset := int(math.Round(p.item.Metadata.TrimStart * sr))
	n := int(math.Round(p.item.Duration * sr))
	srcFrames := p.buf.Frames()

	for k := 0; k < out.Frames(); k++ {
		rel := base + k - start
		if rel < 0 {
			continue
		}
		src := offset + rel
		if rel >= n || src >= srcFrames {
			break
		}
		if src < 0 {
			continue
		}
		g := float32(1)
		if p.layer == domain.LayerMusic {
			g = float32(e.musicGain(float64(base+k)/sr, total, voice))
		}
		for c := 0; c < ch; c++ {
			out.Samples[k*ch+c] += p.buf.Samples[src*srcCh+c%srcCh] * g
		}
	}
}

var audioLayers = []domain.LayerType{domain.LayerVoiceover, domain.LayerMusic}

func interval(item domain.Item) [2]float64 {
	return [2]float64{item.StartTime, item.End()}
}

// musicEnvelope is the per-frame music gain in master time for a whole
// timeline.
func (e *Engine) musicEnvelope(frames int, total float64, voice [][2]float64) []float32 {
	sr := float64(e.opts.SampleRate)
	env := make([]float32, frames)
	for i := range env {
		env[i] = float32(e.musicGain(float64(i)/sr, total, voice))
	}
	return env
}

// musicGain is a linear fade to zero over the final MusicFadeSeconds of the
// timeline, multiplied by the voiceover duck.
func (e *Engine) musicGain(t, total float64, voice [][2]float64) float64 {
	fadeStart := math.Max(0, total-domain.MusicFadeSeconds)
	fadeLen := total - fadeStart

	g := 1.0
	if t >= fadeStart && fadeLen > 0 {
		g = math.Max(0, (total-t)/fadeLen)
	}
	if len(voice) > 0 && e.opts.DuckLevel < 1 {
		g *= 1 - (1-e.opts.DuckLevel)*duckWeight(t, voice, e.opts.DuckRamp)
	}
	return g
}

// duckWeight is 1 inside any voiceover interval and ramps linearly to 0 over
// ramp seconds on either side.
func duckWeight(t float64, voice [][2]float64, ramp float64) float64 {
	w := 0.0
	for _, v := range voice {
		var x float64
		switch {
		case t >= v[0] && t < v[1]:
			x = 1
		case t < v[0]:
			x = 1 - (v[0]-t)/ramp
		default:
			x = 1 - (t-v[1])/ramp
		}
		if x > w {
			w = x
		}
	}
	return w
}

func (e *Engine) place(out domain.AudioBuffer, p placed, gain []float32) {
	sr := float64(e.opts.SampleRate)
	ch := out.Channels
	srcCh := p.buf.Channels
	if srcCh == 0 {
		return
	}

	start := int(math.Round(p.item.StartTime * sr))
	offset := int(math.Round(p.item.Metadata.TrimStart * sr))
	n := int(math.Round(p.item.Duration * sr))
	srcFrames := p.buf.Frames()
	outFrames := out.Frames()

	for k := 0; k < n; k++ {
		dst := start + k
		if dst >= outFrames {
			break
		}
		src := offset + k
		if src >= srcFrames {
			break
		}
		if dst < 0 || src < 0 {
			continue
		}
		g := float32(1)
		if gain != nil {
			g = gain[dst]
		}
		for c := 0; c < ch; c++ {
			out.Samples[dst*ch+c] += p.buf.Samples[src*srcCh+c%srcCh] * g
		}
	}
}

func clampSamples(s []float32) {
	for i, v := range s {
		if v > 1 {
			s[i] = 1
		} else if v < -1 {
			s[i] = -1
		}
	}
}
