package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWatchdogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Run one endpoint health check pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w, err := a.Watchdog()
			if err != nil {
				return err
			}
			report, err := w.CheckEndpoints(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ep := range report.Endpoints {
				state := "ok"
				switch {
				case ep.SLABreached && ep.ErrorStreak:
					state = "sla-breach,error-streak"
				case ep.SLABreached:
					state = "sla-breach"
				case ep.ErrorStreak:
					state = "error-streak"
				}
				last := "never"
				if ep.LastScrapedAt != nil {
					last = ep.LastScrapedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%-30s %-25s errors=%-3d %s\n", ep.Source, last, ep.ConsecutiveErrors, state)
			}
			for domain, st := range report.RateLimits {
				if st.CircuitOpen {
					fmt.Fprintf(out, "circuit open: %s (errors=%d, since %s)\n",
						domain, st.ConsecutiveErrors, st.OpenedAt.Format("15:04:05"))
				}
			}
			return nil
		},
	}
	return cmd
}
