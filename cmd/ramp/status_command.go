package main

import (
	"fmt"
	"time"

	"ramp/internal/status"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <item-id>",
		Short: "Show the processing status of one content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}

			var st status.ItemStatus
			if err := newAPIClient(base).get(cmd.Context(), "/api/content/status/"+args[0], &st); err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return printJSON(cmd, st)
			}

			rows := [][]string{
				{"ID", st.ID},
				{"Kind", string(st.Kind)},
				{"State", string(st.State)},
				{"Stage", fmt.Sprintf("%s (%d/%d)", st.Stage, st.StageIndex, st.TotalStages)},
				{"Progress", fmt.Sprintf("%d%%", st.PercentComplete)},
				{"Source", st.SourceURL},
				{"Updated", st.UpdatedAt.Local().Format(time.RFC3339)},
			}
			if st.BatchID != "" {
				rows = append(rows, []string{"Batch", st.BatchID})
			}
			if st.ErrorMessage != "" {
				rows = append(rows, []string{"Error", st.ErrorMessage})
			}
			cmd.Println(renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item-id>",
		Short: "Cancel a content item that has not finished processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}
			var resp struct {
				ID        string `json:"id"`
				Cancelled bool   `json:"cancelled"`
			}
			if err := newAPIClient(base).post(cmd.Context(), "/api/content/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printJSON(cmd, resp)
			}
			cmd.Printf("cancelled %s\n", resp.ID)
			return nil
		},
	}
}
