package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eleven-am/splice"
	"github.com/eleven-am/splice/internal/config"
	"github.com/eleven-am/splice/internal/coord"
	"github.com/eleven-am/splice/internal/logging"
	"github.com/eleven-am/splice/internal/store"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && strings.TrimSpace(*c.levelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.levelFlag)
			if err := cfg.Validate(); err != nil {
				c.configErr = err
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) withStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// withSession opens the store, builds a Session with running export workers
// and tears everything down after fn returns.
func (c *commandContext) withSession(ctx context.Context, fn func(*splice.Session, *store.Store, zerolog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   filepath.Join(cfg.Paths.LogDir, "splice.log"),
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	return c.withStore(func(st *store.Store) error {
		coordinator := coord.NewMemory(cfg.Export.Workers * 4)
		defer coordinator.Close()

		session := splice.NewSession(sessionOptions(cfg, st, coordinator, logger))
		defer session.Close()

		if err := session.Start(ctx); err != nil {
			return err
		}
		return fn(session, st, logger)
	})
}

func sessionOptions(cfg *config.Config, st splice.Storage, coordinator splice.Coordinator, logger zerolog.Logger) splice.Options {
	return splice.Options{
		Storage:        st,
		Coordinator:    coordinator,
		Logger:         logger,
		FFmpegPath:     cfg.FFmpeg.FFmpeg,
		FFprobePath:    cfg.FFmpeg.FFprobe,
		HWAccel:        cfg.FFmpeg.HWAccel,
		DecodeTimeout:  cfg.DecodeTimeout(),
		RenderTimeout:  cfg.RenderTimeout(),
		Workers:        cfg.Export.Workers,
		DuckLevel:      cfg.Audio.DuckLevel,
		DuckRamp:       cfg.Audio.DuckRampSeconds,
		ThumbWidth:     cfg.Thumbnails.Width,
		ThumbHeight:    cfg.Thumbnails.Height,
		ThumbCacheSize: cfg.Thumbnails.CacheSize,
		VideoBitrate:   cfg.Export.VideoBitrate,
		AudioBitrate:   cfg.Export.AudioBitrate,
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func wrapStoreError(err error, scenarioID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no timeline stored for %q; import one with `splice timeline import`", scenarioID)
	}
	return err
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(10 * time.Millisecond).String()
}
