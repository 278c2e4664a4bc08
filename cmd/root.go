// Package cmd defines the CLI commands for the regtruth executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexhaven/regtruth/internal/app"
	"github.com/lexhaven/regtruth/internal/config"
)

var cfgFile string

type appKeyType struct{}

// newApp is a factory variable so tests can substitute a prebuilt container.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regtruth",
		Short: "Regulatory-truth extraction pipeline",
		Long: `regtruth discovers regulatory documents from sitemap-indexed sources,
parses them into addressable provision trees, and serves semantic search
over the extracted source pointers.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The parse command works on local files and needs no services.
			if cmd.Annotations["standalone"] == "true" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKeyType{}).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchdogCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
