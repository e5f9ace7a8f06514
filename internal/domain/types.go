package domain

import "image"

const (
	OutputWidth  = 1920
	OutputHeight = 1080
	OutputFPS    = 30

	SampleRate = 48000
	Channels   = 2

	MusicFadeSeconds = 2.0
)

type LayerType string

const (
	LayerVideo     LayerType = "video"
	LayerVoiceover LayerType = "voiceover"
	LayerMusic     LayerType = "music"
)

func (t LayerType) Valid() bool {
	switch t {
	case LayerVideo, LayerVoiceover, LayerMusic:
		return true
	}
	return false
}

// IsAudio reports whether items of this layer type are mixed rather than composited.
func (t LayerType) IsAudio() bool {
	return t == LayerVoiceover || t == LayerMusic
}

type Layer struct {
	ID    string    `json:"id"`
	Type  LayerType `json:"type"`
	Items []Item    `json:"items"`
}

type ItemMetadata struct {
	TrimStart float64 `json:"trimStart,omitempty"`
}

type Item struct {
	ID        string       `json:"id"`
	Content   string       `json:"content,omitempty"`
	StartTime float64      `json:"startTime"`
	Duration  float64      `json:"duration"`
	Metadata  ItemMetadata `json:"metadata,omitempty"`
}

func (i Item) End() float64 {
	return i.StartTime + i.Duration
}

// Contains reports whether t falls in the half-open interval [StartTime, End).
func (i Item) Contains(t float64) bool {
	return t >= i.StartTime && t < i.End()
}

// SourceTime maps a master-timeline time to the item's position in its source media.
func (i Item) SourceTime(t float64) float64 {
	return t - i.StartTime + i.Metadata.TrimStart
}

type PlaybackState struct {
	IsPlaying   bool
	CurrentTime float64
	Duration    float64
}

type MediaInfo struct {
	URI       string
	Duration  float64
	Width     int
	Height    int
	FrameRate float64
	HasVideo  bool
	HasAudio  bool
}

// AudioBuffer holds interleaved float32 PCM.
type AudioBuffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

func NewAudioBuffer(sampleRate, channels, frames int) AudioBuffer {
	if frames < 0 {
		frames = 0
	}
	return AudioBuffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]float32, frames*channels),
	}
}

// Frames returns the number of sample frames (samples per channel).
func (b AudioBuffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

func (b AudioBuffer) Seconds() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

type FrameKind int

const (
	FrameDecoded FrameKind = iota
	FrameBlack
	FrameUnavailable
)

func (k FrameKind) String() string {
	switch k {
	case FrameDecoded:
		return "decoded"
	case FrameBlack:
		return "black"
	default:
		return "unavailable"
	}
}

// FrameResult is the outcome of resolving the video layer at one master time.
// Image is only set for FrameDecoded; Item is set whenever a clip was active.
type FrameResult struct {
	Kind       FrameKind
	Image      image.Image
	Item       *Item
	SourceTime float64
	Err        error
}

type AudioKind int

const (
	AudioDecoded AudioKind = iota
	AudioSilence
	AudioUnavailable
)

func (k AudioKind) String() string {
	switch k {
	case AudioDecoded:
		return "decoded"
	case AudioSilence:
		return "silence"
	default:
		return "unavailable"
	}
}

type AudioResult struct {
	Kind   AudioKind
	Buffer AudioBuffer
	Item   Item
	Err    error
}
