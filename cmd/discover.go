package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/config"
	"github.com/lexhaven/regtruth/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover <source>",
		Short: "Scan one source's sitemap index for content URLs",
		Long: `Streams the configured sitemap index and its child sitemaps, yielding
content URLs up to the configured cap. Progress is checkpointed after each
fully processed child sitemap, so an interrupted scan resumes without
re-reading completed children.`,
		Args: cobra.ExactArgs(1),
		RunE: runDiscoverCommand,
	}
	return cmd
}

func runDiscoverCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	source := args[0]
	srcCfg, ok := a.Cfg.Sources[source]
	if !ok {
		return fmt.Errorf("source %q is not configured", source)
	}

	scanCfg, err := buildScanConfig(source, srcCfg)
	if err != nil {
		return err
	}

	ckpts, err := a.Checkpoints(source)
	if err != nil {
		return err
	}
	scanner, err := discovery.NewScanner(
		scanCfg,
		discovery.NewHTTPFetcher(30*time.Second, ""),
		a.Registry.Register(source),
		ckpts,
		a.Alerter,
		a.Logger,
	)
	if err != nil {
		return err
	}

	resume, err := ckpts.Load(cmd.Context())
	if err != nil {
		return err
	}
	if resume != nil {
		a.Logger.Info("resuming from checkpoint",
			zap.String("source", source),
			zap.Int("last_completed_child_index", resume.LastCompletedChildIndex),
			zap.Int("urls_emitted", resume.URLsEmittedSoFar),
		)
	}

	// A first interrupt requests a clean stop at the next child boundary; a
	// second one kills the process the usual way.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		a.Logger.Info("stop requested, finishing current child sitemap")
		scanner.RequestStop()
		signal.Stop(sigCh)
	}()

	emitted := 0
	ckpt, runErr := scanner.Run(cmd.Context(), resume, func(url string) error {
		emitted++
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	})

	if runErr != nil {
		if recErr := a.Endpoints.RecordFailure(cmd.Context(), source, runErr.Error()); recErr != nil {
			a.Logger.Warn("record scrape failure", zap.Error(recErr))
		}
		if errors.Is(runErr, discovery.ErrStructuralLimit) || errors.Is(runErr, discovery.ErrFailureCeiling) {
			a.Logger.Error("scan aborted",
				zap.String("source", source),
				zap.Int("urls_emitted_this_run", emitted),
				zap.Error(runErr),
			)
		}
		return runErr
	}
	if err := a.Endpoints.RecordSuccess(cmd.Context(), source, time.Now().UTC()); err != nil {
		a.Logger.Warn("record scrape success", zap.Error(err))
	}
	a.Logger.Info("scan finished",
		zap.String("source", source),
		zap.Int("urls_emitted_this_run", emitted),
		zap.Int("urls_emitted_total", ckpt.URLsEmittedSoFar),
		zap.Int("last_completed_child_index", ckpt.LastCompletedChildIndex),
	)
	return nil
}

func buildScanConfig(source string, src config.SourceConfig) (discovery.Config, error) {
	cfg := discovery.Config{
		Source:                 source,
		IndexURL:               src.IndexURL,
		IncludeUndatedChildren: src.IncludeUndated,
		MaxURLs:                src.MaxURLs,
		MaxChildFailures:       src.MaxChildFailures,
		MaxDocBytes:            src.MaxDocBytes,
	}
	if src.URLPattern != "" {
		re, err := regexp.Compile(src.URLPattern)
		if err != nil {
			return discovery.Config{}, fmt.Errorf("compile url_pattern: %w", err)
		}
		cfg.URLPattern = re
	}
	if src.DatePattern != "" {
		re, err := regexp.Compile(src.DatePattern)
		if err != nil {
			return discovery.Config{}, fmt.Errorf("compile date_pattern: %w", err)
		}
		cfg.DatePattern = re
	}
	if src.DateFrom != "" {
		from, err := time.Parse("2006-01-02", src.DateFrom)
		if err != nil {
			return discovery.Config{}, fmt.Errorf("parse date_from: %w", err)
		}
		cfg.DateFrom = from
	}
	if src.DateTo != "" {
		to, err := time.Parse("2006-01-02", src.DateTo)
		if err != nil {
			return discovery.Config{}, fmt.Errorf("parse date_to: %w", err)
		}
		cfg.DateTo = to
	}
	return cfg, nil
}
