package main

import (
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var identifier, query string
	var topK int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find the chunks of an ingested document closest to a query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ingester, err := app.Ingester()
			if err != nil {
				return err
			}
			matches, err := ingester.Search(cmd.Context(), identifier, query, topK)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), matches)
		},
	}
	cmd.Flags().StringVar(&identifier, "id", "", "document identifier")
	cmd.Flags().StringVar(&query, "query", "", "search text")
	cmd.Flags().IntVar(&topK, "top-k", 5, "number of matches")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
