package main

import (
	"fmt"
	"time"

	"ramp/internal/queue"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the local job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueStatsCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var states []queue.ItemState
			if stateFlag != "" {
				state, ok := queue.ParseState(stateFlag)
				if !ok {
					return fmt.Errorf("unknown state %q", stateFlag)
				}
				states = append(states, state)
			}

			items, err := store.ListItems(cmd.Context(), states...)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cmd, items)
			}
			if len(items) == 0 {
				cmd.Println("queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.ID,
					string(item.Kind),
					string(item.State),
					item.Stage,
					fmt.Sprintf("%d", item.Attempts),
					item.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			cmd.Println(renderTable(
				[]string{"ID", "Kind", "State", "Stage", "Attempts", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&stateFlag, "state", "s", "", "Filter by item state")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show item counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cmd, stats)
			}

			rows := make([][]string, 0, len(stats))
			for _, state := range queue.AllStates() {
				if count, ok := stats[state]; ok {
					rows = append(rows, []string{string(state), fmt.Sprintf("%d", count)})
				}
			}
			if len(rows) == 0 {
				cmd.Println("queue is empty")
				return nil
			}
			cmd.Println(renderTable([]string{"State", "Count"}, rows,
				[]columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id...]",
		Short: "Requeue failed items at their current stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			retried, err := store.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return err
			}
			cmd.Printf("requeued %d item(s)\n", retried)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed, failed, and cancelled items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.ClearTerminal(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("removed %d item(s)\n", removed)
			return nil
		},
	}
}
