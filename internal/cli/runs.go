package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/integration"
)

var (
	runsLimit  int
	runsSince  time.Duration
	runsFailed bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent workflow runs and API usage from the audit log",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	runsCmd.Flags().DurationVar(&runsSince, "since", 24*time.Hour, "window for API statistics")
	runsCmd.Flags().BoolVar(&runsFailed, "failed-calls", false, "also list failed API calls in the window")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	audit, err := deps.openAudit()
	if err != nil {
		return err
	}
	if audit == nil {
		return fmt.Errorf("audit log is disabled")
	}

	runs, err := audit.RecentRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No workflow runs recorded.")
	}
	for _, r := range runs {
		outcome := string(r.Status)
		if r.Escalated {
			outcome += ": " + r.EscalationReason
		}
		fmt.Printf("%s  %-12s %-8s %6s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Category, r.Urgency, r.Duration.Round(time.Millisecond), outcome)
	}

	since := time.Now().Add(-runsSince)
	fmt.Println()
	for _, service := range []integration.ServiceType{integration.ServiceTypeSlack, integration.ServiceTypeCalendar} {
		stats, err := audit.Stats(ctx, service, since)
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %d calls, %.1f%% failed, avg %s\n",
			service, stats.Calls, stats.FailureRate()*100, stats.AvgLatency.Round(time.Millisecond))
	}

	if !runsFailed {
		return nil
	}
	failed, err := audit.Calls(ctx, integration.CallFilter{Since: since, FailedOnly: true, Limit: runsLimit})
	if err != nil {
		return err
	}
	fmt.Println()
	for _, c := range failed {
		fmt.Printf("%s  %-16s %s %s %d %s\n",
			c.At.Local().Format(time.DateTime), c.Service, c.Method, c.Endpoint, c.Status, c.Err)
	}
	return nil
}
