package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/discovery"
)

func newCrawlCmd() *cobra.Command {
	var class string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl cycle and print the newly discovered records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			classes, err := parseClasses(class)
			if err != nil {
				return err
			}
			results := make([]crawler.CycleResult, 0, len(classes))
			var aborted []string
			for _, c := range classes {
				result, err := app.RunCycle(cmd.Context(), c)
				if err != nil {
					if !discovery.IsAborted(err) {
						return fmt.Errorf("crawl %s: %w", c, err)
					}
					app.Logger().Error("crawl cycle could not run", zap.String("class", string(c)), zap.Error(err))
					aborted = append(aborted, string(c))
					continue
				}
				results = append(results, result)
			}
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if len(aborted) > 0 {
				return fmt.Errorf("crawl aborted for %s", strings.Join(aborted, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "all", "document class: circular, press_release or all")
	return cmd
}

func parseClasses(raw string) ([]crawler.DocumentClass, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "all") || raw == "" {
		return crawler.Classes(), nil
	}
	class, err := crawler.ParseDocumentClass(raw)
	if err != nil {
		return nil, err
	}
	return []crawler.DocumentClass{class}, nil
}
