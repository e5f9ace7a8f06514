package config

const (
	defaultDataDir              = "~/.local/share/splice"
	defaultLogDir               = "~/.local/share/splice/logs"
	defaultFFmpeg               = "ffmpeg"
	defaultFFprobe              = "ffprobe"
	defaultHWAccel              = "auto"
	defaultDuckLevel            = 0.35
	defaultDuckRampSeconds      = 0.25
	defaultWorkers              = 1
	defaultRenderTimeoutSeconds = 600
	defaultVideoBitrate         = 8_000_000
	defaultAudioBitrate         = 192_000
	defaultThumbWidth           = 160
	defaultThumbHeight          = 90
	defaultThumbCacheSize       = 64
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		FFmpeg: FFmpeg{
			FFmpeg:  defaultFFmpeg,
			FFprobe: defaultFFprobe,
			HWAccel: defaultHWAccel,
		},
		Audio: Audio{
			DuckLevel:       defaultDuckLevel,
			DuckRampSeconds: defaultDuckRampSeconds,
		},
		Export: Export{
			Workers:              defaultWorkers,
			RenderTimeoutSeconds: defaultRenderTimeoutSeconds,
			VideoBitrate:         defaultVideoBitrate,
			AudioBitrate:         defaultAudioBitrate,
		},
		Thumbnails: Thumbnails{
			Width:     defaultThumbWidth,
			Height:    defaultThumbHeight,
			CacheSize: defaultThumbCacheSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
