package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/eleven-am/splice"
	"github.com/eleven-am/splice/internal/store"
	"github.com/eleven-am/splice/internal/timeline"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	var timelineFile string
	var keepOld bool

	cmd := &cobra.Command{
		Use:   "export [scenario-id]",
		Short: "Render a timeline to MP4",
		Long: "Render a stored timeline through the export queue, reusing a previous export of\n" +
			"the same timeline when one exists. With --timeline the file is rendered directly\n" +
			"and nothing is stored.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scenarioID string
			if len(args) == 1 {
				scenarioID = args[0]
			}
			if scenarioID == "" && timelineFile == "" {
				return fmt.Errorf("a scenario id or --timeline file is required")
			}
			target := strings.TrimSpace(outputPath)
			if target == "" {
				name := scenarioID
				if name == "" {
					name = "export"
				}
				target = name + ".mp4"
			}

			return ctx.withSession(cmd.Context(), func(session *splice.Session, st *store.Store, logger zerolog.Logger) error {
				progress, finish := newProgressReporter(cmd.ErrOrStderr(), logger)
				started := time.Now()

				var (
					data []byte
					err  error
				)
				if timelineFile != "" {
					layers, lerr := readLayersFile(timelineFile)
					if lerr != nil {
						return lerr
					}
					data, err = session.Export(cmd.Context(), layers, progress)
				} else {
					data, err = session.Render(cmd.Context(), scenarioID, progress)
				}
				finish()
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}

				if err := writeOutput(target, func(w io.Writer) error {
					_, err := w.Write(data)
					return err
				}); err != nil {
					return err
				}

				if scenarioID != "" && timelineFile == "" && !keepOld {
					pruneStaleExports(cmd, st, scenarioID, logger)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s) in %s\n",
					target, humanize.Bytes(uint64(len(data))), time.Since(started).Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default <scenario-id>.mp4)")
	cmd.Flags().StringVar(&timelineFile, "timeline", "", "Render a timeline JSON file instead of a stored scenario")
	cmd.Flags().BoolVar(&keepOld, "keep-old", false, "Keep exports of earlier versions of the timeline")
	return cmd
}

// pruneStaleExports drops stored exports of earlier timeline versions. Errors
// only cost disk space, so they are logged rather than returned.
func pruneStaleExports(cmd *cobra.Command, st *store.Store, scenarioID string, logger zerolog.Logger) {
	layers, err := st.LoadTimeline(cmd.Context(), scenarioID)
	if err != nil {
		return
	}
	hash, err := timeline.Hash(layers)
	if err != nil {
		return
	}
	removed, err := st.PruneExports(cmd.Context(), scenarioID, hash)
	if err != nil {
		logger.Warn().Err(err).Str("scenario", scenarioID).Msg("prune exports failed")
		return
	}
	if removed > 0 {
		logger.Info().Int64("removed", removed).Str("scenario", scenarioID).Msg("pruned stale exports")
	}
}

// newProgressReporter draws a progress bar on terminals and logs every tenth
// percent otherwise. finish must be called once the export returns.
func newProgressReporter(w io.Writer, logger zerolog.Logger) (func(int), func()) {
	if isTerminal(w) {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Exporting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
		return func(pct int) { _ = bar.Set(pct) }, func() { _ = bar.Finish() }
	}

	last := -1
	return func(pct int) {
		if last < 0 || pct/10 != last/10 {
			logger.Info().Int("progress", pct).Msg("exporting")
		}
		last = pct
	}, func() {}
}
