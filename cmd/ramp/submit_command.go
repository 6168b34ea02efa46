package main

import (
	"ramp/internal/ingest"
	"ramp/internal/status"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var lang string

	cmd := &cobra.Command{
		Use:   "submit <source-url>",
		Short: "Submit one piece of content for accessibility processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}

			var st status.ItemStatus
			err = newAPIClient(base).post(cmd.Context(), "/api/content/ingest", ingest.ContentRequest{
				Kind:      kind,
				SourceURL: args[0],
				Language:  lang,
			}, &st)
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return printJSON(cmd, st)
			}
			cmd.Printf("accepted %s (%s, %d stages)\n", st.ID, st.Kind, st.TotalStages)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Content kind: document, image, video, or audio")
	cmd.Flags().StringVarP(&lang, "language", "l", "", "BCP 47 language tag of the source")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
