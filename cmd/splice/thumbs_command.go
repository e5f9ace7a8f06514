package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eleven-am/splice"
	"github.com/eleven-am/splice/internal/store"
	"github.com/eleven-am/splice/internal/thumbnail"
)

func newThumbsCommand(ctx *commandContext) *cobra.Command {
	var count int
	var cols int
	var duration float64
	var outputPath string

	cmd := &cobra.Command{
		Use:   "thumbs <media-uri>",
		Short: "Write an evenly spaced thumbnail sheet for a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			if cols <= 0 {
				cols = count
			}
			return ctx.withSession(cmd.Context(), func(session *splice.Session, _ *store.Store, logger zerolog.Logger) error {
				frames := session.Thumbnails(cmd.Context(), args[0], count, duration)
				if len(frames) == 0 {
					return fmt.Errorf("no thumbnails could be decoded from %s", args[0])
				}
				if err := writePNG(outputPath, thumbnail.Sheet(frames, cols)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d of %d thumbnails)\n", outputPath, len(frames), count)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of thumbnails")
	cmd.Flags().IntVar(&cols, "cols", 0, "Thumbnails per row (default all in one row)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Media duration in seconds (probed when 0)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "thumbs.png", "Output PNG")
	return cmd
}
