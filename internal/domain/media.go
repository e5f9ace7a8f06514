package domain

import (
	"context"
	"image"
)

// Decoder is an opened video source. Implementations are stateful and
// serialize FrameAt calls internally.
type Decoder interface {
	Info() MediaInfo
	FrameAt(ctx context.Context, seconds float64) (image.Image, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context, uri string) (Decoder, error)
}

type AudioDecoder interface {
	DecodeAudio(ctx context.Context, uri string, sampleRate, channels int) (AudioBuffer, error)
}

type VideoTrack struct {
	Width   int
	Height  int
	FPS     int
	Bitrate int
}

type AudioTrack struct {
	SampleRate int
	Channels   int
	Bitrate    int
}

// Sink receives a finished audio mix and composited frames and produces the
// encoded container. Frames must arrive in increasing timestamp order.
type Sink interface {
	Start(ctx context.Context, video VideoTrack, audio AudioTrack) error
	WriteAudio(buf AudioBuffer) error
	WriteFrame(img *image.RGBA, timestamp, duration float64) error
	Finalize() ([]byte, error)
	Abort()
}
