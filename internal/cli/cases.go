package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/casegraph"
)

var (
	casesUser  string
	casesTopic string
	casesLimit int
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Query the case graph",
	Long: `Query past cases recorded in the Dgraph case graph.

Examples:
  supportflow cases --user U0123456
  supportflow cases --topic sso`,
	Args: cobra.NoArgs,
	RunE: runCases,
}

func init() {
	casesCmd.Flags().StringVar(&casesUser, "user", "", "show a customer's recent cases")
	casesCmd.Flags().StringVar(&casesTopic, "topic", "", "show cases tagged with a topic")
	casesCmd.Flags().IntVarP(&casesLimit, "limit", "n", 10, "maximum cases to show")
	casesCmd.MarkFlagsOneRequired("user", "topic")
	casesCmd.MarkFlagsMutuallyExclusive("user", "topic")
}

func runCases(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	graph, err := deps.openGraph(ctx)
	if err != nil {
		return err
	}
	if graph == nil {
		return fmt.Errorf("case graph is not configured (set DGRAPH_ADDR)")
	}

	var cases []casegraph.CaseSummary
	if casesUser != "" {
		cases, err = graph.CustomerHistory(ctx, casesUser, casesLimit)
	} else {
		cases, err = graph.RelatedCases(ctx, casesTopic, casesLimit)
	}
	if err != nil {
		return err
	}

	if len(cases) == 0 {
		fmt.Println("No cases found.")
		return nil
	}
	for _, c := range cases {
		state := "resolved"
		if c.Escalated {
			state = "escalated"
		}
		fmt.Printf("%s  %-24s %-12s %-8s %s\n",
			c.Created.Local().Format(time.DateTime), c.ID, c.Category, c.Urgency, state)
	}
	return nil
}
