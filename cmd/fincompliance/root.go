package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/api"
	"github.com/vinay10110/FinCompilance/internal/config"
	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/server"
)

// App is what the commands need from the running application.
type App interface {
	Run(ctx context.Context) error
	RunCycle(ctx context.Context, class crawler.DocumentClass) (crawler.CycleResult, error)
	Ingester() (api.Ingester, error)
	Logger() *zap.Logger
	Close()
}

type appKeyType struct{}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "fincompliance",
		Short:         "Discovers and indexes regulatory circulars and press releases.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, app))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newIngestCmd(), newSearchCmd())
	// PersistentPostRun is skipped when RunE fails, so every command closes the app itself.
	for _, sub := range cmd.Commands() {
		if sub.RunE != nil {
			sub.RunE = closingRunE(sub.RunE)
		}
	}
	return cmd
}

func closingRunE(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer func() {
			if app, ok := cmd.Context().Value(appKeyType{}).(App); ok && app != nil {
				app.Close()
			}
		}()
		return run(cmd, args)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	app, ok := ctx.Value(appKeyType{}).(App)
	if !ok || app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
