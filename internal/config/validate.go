package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

var hwAccels = map[string]bool{
	"auto": true, "none": true, "cuda": true, "qsv": true, "videotoolbox": true, "vaapi": true,
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateThumbnails(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateFFmpeg() error {
	if !hwAccels[c.FFmpeg.HWAccel] {
		return fmt.Errorf("ffmpeg.hw_accel %q is not one of auto, none, cuda, qsv, videotoolbox, vaapi", c.FFmpeg.HWAccel)
	}
	if c.FFmpeg.DecodeTimeoutSeconds < 0 {
		return fmt.Errorf("ffmpeg.decode_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.DuckLevel <= 0 || c.Audio.DuckLevel > 1 {
		return fmt.Errorf("audio.duck_level must be in (0, 1], got %v", c.Audio.DuckLevel)
	}
	if c.Audio.DuckRampSeconds <= 0 {
		return fmt.Errorf("audio.duck_ramp_seconds must be positive")
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.Workers < 1 {
		return fmt.Errorf("export.workers must be at least 1")
	}
	if c.Export.RenderTimeoutSeconds <= 0 {
		return fmt.Errorf("export.render_timeout_seconds must be positive")
	}
	if c.Export.VideoBitrate < 0 || c.Export.AudioBitrate < 0 {
		return fmt.Errorf("export bitrates must be >= 0")
	}
	return nil
}

func (c *Config) validateThumbnails() error {
	if c.Thumbnails.Width <= 0 || c.Thumbnails.Height <= 0 {
		return fmt.Errorf("thumbnails.width and thumbnails.height must be positive")
	}
	if c.Thumbnails.CacheSize <= 0 {
		return fmt.Errorf("thumbnails.cache_size must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
