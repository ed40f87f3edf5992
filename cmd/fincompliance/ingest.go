package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

func newIngestCmd() *cobra.Command {
	var link, identifier, class string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the searchable namespace for one document",
		Long: `Downloads the document, extracts its text and tables, and stores embedded chunks.
Pass --id together with --link, or --class and --id of a previously crawled record.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if identifier == "" {
				return errors.New("--id is required")
			}
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ingester, err := app.Ingester()
			if err != nil {
				return err
			}
			var namespace string
			switch {
			case link != "":
				namespace, err = ingester.Ingest(cmd.Context(), link, identifier)
			case class != "":
				c, perr := crawler.ParseDocumentClass(class)
				if perr != nil {
					return perr
				}
				namespace, err = ingester.IngestRecord(cmd.Context(), c, identifier)
			default:
				return errors.New("either --link or --class is required")
			}
			if err != nil {
				if stage := crawler.IngestionStageOf(err); stage != "" {
					return fmt.Errorf("ingestion failed during %s: %w", stage, err)
				}
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), namespace)
			return err
		},
	}
	cmd.Flags().StringVar(&link, "link", "", "document (PDF) URL")
	cmd.Flags().StringVar(&identifier, "id", "", "identifier of the document record")
	cmd.Flags().StringVar(&class, "class", "", "document class of a crawled record")
	return cmd
}
