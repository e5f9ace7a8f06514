package main

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eleven-am/splice"
	"github.com/eleven-am/splice/internal/store"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var from float64
	var timelineFile string

	cmd := &cobra.Command{
		Use:   "preview [scenario-id]",
		Short: "Play a timeline in real time and print each clip change",
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

				player := session.NewPlayer(layers, nil)
				defer player.Close()

				out := cmd.OutOrStdout()
				done := make(chan struct{})
				var once sync.Once
				var mu sync.Mutex
				lastItem := "\x00"

				player.OnFrame(func(res splice.FrameResult) {
					id := ""
					if res.Item != nil {
						id = res.Item.ID
					}
					mu.Lock()
					defer mu.Unlock()
					select {
					case <-done:
						return
					default:
					}
					if id == lastItem {
						return
					}
					lastItem = id
					if id == "" {
						fmt.Fprintf(out, "%8s  (%s)\n", formatSeconds(player.State().CurrentTime), res.Kind)
						return
					}
					fmt.Fprintf(out, "%8s  %s @ %s (%s)\n",
						formatSeconds(player.State().CurrentTime), id, formatSeconds(res.SourceTime), res.Kind)
				})
				lastAudio := splice.AudioSilence
				player.OnAudio(func(res splice.AudioResult) {
					mu.Lock()
					defer mu.Unlock()
					if res.Kind == lastAudio {
						return
					}
					lastAudio = res.Kind
					if res.Kind == splice.AudioUnavailable {
						logger.Warn().Err(res.Err).Float64("at", player.State().CurrentTime).Msg("audio unavailable")
					}
				})
				if player.State().Duration <= 0 {
					return splice.ErrEmptyTimeline
				}
				player.Seek(from)

				player.OnTimeUpdate(func(t float64) {
					if t == 0 && !player.State().IsPlaying {
						once.Do(func() { close(done) })
					}
				})
				if err := player.Play(cmd.Context()); err != nil {
					return err
				}

				select {
				case <-done:
					mu.Lock()
					fmt.Fprintln(out, "Playback finished")
					mu.Unlock()
				case <-cmd.Context().Done():
					player.Pause()
				}
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&from, "from", 0, "Start position in seconds")
	cmd.Flags().StringVar(&timelineFile, "timeline", "", "Read layers from a timeline JSON file")
	return cmd
}
