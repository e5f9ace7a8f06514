package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eleven-am/splice/internal/store"
	"github.com/eleven-am/splice/internal/timeline"
)

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	timelineCmd := &cobra.Command{
		Use:   "timeline",
		Short: "Manage stored timelines",
	}

	timelineCmd.AddCommand(newTimelineImportCommand(ctx))
	timelineCmd.AddCommand(newTimelineShowCommand(ctx))
	timelineCmd.AddCommand(newTimelineListCommand(ctx))
	timelineCmd.AddCommand(newTimelineDeleteCommand(ctx))

	return timelineCmd
}

func newTimelineImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <scenario-id> <file.json>",
		Short: "Validate a timeline file and store it under a scenario id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			layers, err := readLayersFile(args[1])
			if err != nil {
				return err
			}
			if err := timeline.Validate(layers); err != nil {
				return fmt.Errorf("invalid timeline: %w", err)
			}
			return ctx.withStore(func(st *store.Store) error {
				if err := st.SaveTimeline(cmd.Context(), args[0], layers); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s, %d layers)\n",
					args[0], formatSeconds(timeline.TotalDuration(layers)), len(layers))
				return nil
			})
		},
	}
}

func newTimelineShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <scenario-id>",
		Short: "Show the items of a stored timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				layers, err := st.LoadTimeline(cmd.Context(), args[0])
				if err != nil {
					return wrapStoreError(err, args[0])
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(layers)
				}

				rows := make([][]string, 0)
				for _, layer := range layers {
					for _, item := range layer.Items {
						rows = append(rows, []string{
							string(layer.Type),
							item.ID,
							formatSeconds(item.StartTime),
							formatSeconds(item.End()),
							formatSeconds(item.Metadata.TrimStart),
							item.Content,
						})
					}
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Layer", "Item", "Start", "End", "Trim", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "Duration: %s\n", formatSeconds(timeline.TotalDuration(layers)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw layers as JSON")
	return cmd
}

func newTimelineListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored timelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				summaries, err := st.ListTimelines(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No timelines stored")
					return nil
				}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{
						s.ScenarioID,
						formatSeconds(s.Duration),
						strconv.Itoa(s.Layers),
						humanize.Time(s.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Scenario", "Duration", "Layers", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newTimelineDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <scenario-id>",
		Short: "Delete a stored timeline and its exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.DeleteTimeline(cmd.Context(), args[0]); err != nil {
					return wrapStoreError(err, args[0])
				}
				removed, err := st.PruneExports(cmd.Context(), args[0], "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s and %d exports\n", args[0], removed)
				return nil
			})
		},
	}
}
