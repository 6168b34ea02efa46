package main

import (
	"fmt"
	"os"
	"strings"

	"ramp/internal/ingest"
	"ramp/internal/status"

	"github.com/spf13/cobra"
)

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage bulk ingests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newArchiveSubmitCommand(ctx))
	cmd.AddCommand(newArchiveStatusCommand(ctx))
	cmd.AddCommand(newArchiveCancelCommand(ctx))
	return cmd
}

func newArchiveSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <manifest.json>",
		Short: "Submit a batch manifest for accessibility processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			// Validate locally for a fast, precise error before going over
			// the wire.
			manifest, err := ingest.ParseManifest(data)
			if err != nil {
				return err
			}

			base, err := ctx.apiBase()
			if err != nil {
				return err
			}
			var st status.BatchStatus
			if err := newAPIClient(base).post(cmd.Context(), "/api/archives/ingest", manifest, &st); err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return printJSON(cmd, st)
			}
			cmd.Printf("accepted batch %s with %d items\n", st.ID, st.Total)
			return nil
		},
	}
}

func newArchiveStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show the aggregate status of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}
			var st status.BatchStatus
			if err := newAPIClient(base).get(cmd.Context(), "/api/archives/status/"+args[0], &st); err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return printJSON(cmd, st)
			}

			rows := [][]string{
				{"ID", st.ID},
				{"State", string(st.State)},
				{"Progress", fmt.Sprintf("%d%%", st.PercentComplete)},
				{"Total", fmt.Sprintf("%d", st.Total)},
				{"Completed", fmt.Sprintf("%d", st.Completed)},
				{"Failed", fmt.Sprintf("%d", st.Failed)},
				{"Review", fmt.Sprintf("%d", st.Review)},
				{"In progress", fmt.Sprintf("%d", st.InProgress)},
			}
			if len(st.Standards) > 0 {
				rows = append(rows, []string{"Standards", strings.Join(st.Standards, ", ")})
			}
			if len(st.ManualReviewIDs) > 0 {
				rows = append(rows, []string{"Needs review", strings.Join(st.ManualReviewIDs, "\n")})
			}
			cmd.Println(renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newArchiveCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch and all of its unfinished items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}
			var resp struct {
				ID       string `json:"id"`
				Children int    `json:"children_cancelled"`
			}
			if err := newAPIClient(base).post(cmd.Context(), "/api/archives/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cmd, resp)
			}
			cmd.Printf("cancelled batch %s (%d items stopped)\n", resp.ID, resp.Children)
			return nil
		},
	}
}
