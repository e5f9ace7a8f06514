// Package config loads splice settings from TOML.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

type FFmpeg struct {
	FFmpeg               string `toml:"ffmpeg"`
	FFprobe              string `toml:"ffprobe"`
	HWAccel              string `toml:"hw_accel"`
	DecodeTimeoutSeconds int    `toml:"decode_timeout_seconds"`
}

type Audio struct {
	DuckLevel       float64 `toml:"duck_level"`
	DuckRampSeconds float64 `toml:"duck_ramp_seconds"`
}

type Export struct {
	Workers              int `toml:"workers"`
	RenderTimeoutSeconds int `toml:"render_timeout_seconds"`
	VideoBitrate         int `toml:"video_bitrate"`
	AudioBitrate         int `toml:"audio_bitrate"`
}

type Thumbnails struct {
	Width     int `toml:"width"`
	Height    int `toml:"height"`
	CacheSize int `toml:"cache_size"`
}

type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the full splice configuration.
//
// Sections:
//   - Paths: database and log locations
//   - FFmpeg: tool binaries, encoder acceleration and decode limits
//   - Audio: narration ducking
//   - Export: worker count, timeouts and bitrates
//   - Thumbnails: filmstrip size and cache bound
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	FFmpeg     FFmpeg     `toml:"ffmpeg"`
	Audio      Audio      `toml:"audio"`
	Export     Export     `toml:"export"`
	Thumbnails Thumbnails `toml:"thumbnails"`
	Logging    Logging    `toml:"logging"`
}

func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/splice/config.toml")
}

// Load parses the config at path, or the default location when path is
// empty. A missing file yields defaults. It returns the resolved path and
// whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("splice.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "splice.db")
}

func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.FFmpeg.DecodeTimeoutSeconds) * time.Second
}

func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.Export.RenderTimeoutSeconds) * time.Second
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath applies the config path rules (~ expansion, absolute) to p.
func ExpandPath(p string) (string, error) {
	return expandPath(p)
}

// CreateSample writes the annotated default config to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
