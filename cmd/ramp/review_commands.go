package main

import (
	"fmt"
	"time"

	"ramp/internal/batch"
	"ramp/internal/queue"

	"github.com/spf13/cobra"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Work the manual review list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newReviewListCommand(ctx))
	cmd.AddCommand(newReviewResolveCommand(ctx))
	return cmd
}

func newReviewListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List items waiting on a human decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.ListItems(cmd.Context(), queue.StateReview)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cmd, items)
			}
			if len(items) == 0 {
				cmd.Println("nothing waiting on review")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.ID,
					string(item.Kind),
					item.Stage,
					item.ErrorMessage,
					item.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			cmd.Println(renderTable(
				[]string{"ID", "Kind", "Stage", "Reason", "Flagged"},
				rows, nil,
			))
			return nil
		},
	}
}

func newReviewResolveCommand(ctx *commandContext) *cobra.Command {
	var resolution string
	var note string

	cmd := &cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Apply a human decision to a review-flagged item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, ok := queue.ParseState(resolution)
			if !ok || (state != queue.StateCompleted && state != queue.StateFailed) {
				return fmt.Errorf("resolution must be completed or failed, got %q", resolution)
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			coordinator := batch.NewCoordinator(store, nil)
			item, err := coordinator.ResolveReview(cmd.Context(), args[0], state, note)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cmd, item)
			}
			cmd.Printf("resolved %s as %s\n", item.ID, item.State)
			return nil
		},
	}

	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "Resolution: completed or failed")
	cmd.Flags().StringVarP(&note, "note", "n", "", "Note recorded with the resolution")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}
