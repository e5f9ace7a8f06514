package main

import (
	"fmt"
	"image"
	"image/color"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	xdraw "golang.org/x/image/draw"

	"github.com/eleven-am/splice"
	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/store"
)

func newFrameCommand(ctx *commandContext) *cobra.Command {
	var at float64
	var outputPath string
	var timelineFile string

	cmd := &cobra.Command{
		Use:   "frame [scenario-id]",
		Short: "Write the preview frame at a timeline position as PNG",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scenarioID string
			if len(args) == 1 {
				scenarioID = args[0]
			}
			return ctx.withSession(cmd.Context(), func(session *splice.Session, st *store.Store, logger zerolog.Logger) error {
				layers, err := resolveLayers(cmd.Context(), st, scenarioID, timelineFile)
				if err != nil {
					return err
				}

				res := session.FrameAt(cmd.Context(), layers, at)
				img := res.Image
				if res.Kind != splice.FrameDecoded {
					img = blackFrame()
				}
				if err := writePNG(outputPath, img); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if res.Item != nil {
					fmt.Fprintf(out, "Wrote %s: %s frame of %s at %s\n",
						outputPath, res.Kind, res.Item.ID, formatSeconds(res.SourceTime))
				} else {
					fmt.Fprintf(out, "Wrote %s: %s frame\n", outputPath, res.Kind)
				}
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&at, "at", 0, "Timeline position in seconds")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "frame.png", "Output PNG")
	cmd.Flags().StringVar(&timelineFile, "timeline", "", "Read layers from a timeline JSON file")
	return cmd
}

func blackFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, domain.OutputWidth, domain.OutputHeight))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, xdraw.Src)
	return img
}
