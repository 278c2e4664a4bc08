package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexhaven/regtruth/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		limit         int
		minSimilarity float64
		domain        string
		publishedOnly bool
		asOfDate      string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over extracted source pointers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := a.SearchService()
			if err != nil {
				return err
			}
			opts := search.Options{
				Limit:           limit,
				MinSimilarity:   minSimilarity,
				Domain:          domain,
				PublishedOnly:   publishedOnly,
				OverfetchFactor: a.Cfg.Search.OverfetchFactor,
			}
			if asOfDate != "" {
				asOf, err := time.Parse("2006-01-02", asOfDate)
				if err != nil {
					return fmt.Errorf("parse as-of date: %w", err)
				}
				opts.AsOfDate = asOf
			}
			matches, err := svc.Search(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%.3f  %s  %s\n", m.Similarity, m.Pointer.ID, m.Pointer.Quote)
				for _, r := range m.Rules {
					fmt.Fprintf(out, "       rule %s v%d [%s]: %s\n", r.ConceptSlug, r.Version, r.Status, r.RuleText)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum matches to return")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "similarity floor in [0,1]")
	cmd.Flags().StringVar(&domain, "domain", "", "restrict to one regulatory domain")
	cmd.Flags().BoolVar(&publishedOnly, "published-only", false, "only attach PUBLISHED rules")
	cmd.Flags().StringVar(&asOfDate, "as-of", "", "effective date (YYYY-MM-DD), default today")
	return cmd
}
