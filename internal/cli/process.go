package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/models"
)

var (
	processChannel string
	processUser    string
	processPost    bool
	processJSON    bool
)

var processCmd = &cobra.Command{
	Use:   "process <message>",
	Short: "Run one message through the pipeline",
	Long: `Run one message through the pipeline and print the outcome.

Nothing is posted to Slack unless --post is given, in which case
--channel must name a channel the bot can write to.

Examples:
  supportflow process "How do I configure SSO for my team?"
  supportflow process "We think we had a data breach" --json
  supportflow process "Billing question" --post --channel C0123456`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processChannel, "channel", "cli", "channel id recorded on the message")
	processCmd.Flags().StringVar(&processUser, "user", "cli-user", "user id recorded on the message")
	processCmd.Flags().BoolVar(&processPost, "post", false, "deliver replies to Slack")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "print the full workflow state as JSON")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	content := strings.TrimSpace(args[0])
	if content == "" {
		return fmt.Errorf("message is empty")
	}
	if processPost && processChannel == "cli" {
		return fmt.Errorf("--post needs a real --channel")
	}

	workflow, err := deps.openWorkflow(ctx, processPost)
	if err != nil {
		return err
	}

	msg := models.NewMessage(uuid.NewString(), processChannel, processUser, content, time.Now().UTC())
	state := workflow.Process(ctx, msg)

	if processJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	printOutcome(state)
	return nil
}

func printOutcome(state *models.WorkflowState) {
	msg := state.Message
	fmt.Printf("Category:   %s\n", msg.Category)
	fmt.Printf("Urgency:    %s\n", msg.Urgency)
	fmt.Printf("Status:     %s\n", msg.Status)
	if msg.AssignedAgent != "" {
		fmt.Printf("Assigned:   %s\n", msg.AssignedAgent)
	}
	if msg.ResponseTime != nil {
		fmt.Printf("Took:       %s\n", msg.ResponseTime.Round(time.Millisecond))
	}
	if state.Escalated {
		fmt.Printf("Escalated:  %s\n", state.EscalationReason)
	}

	fmt.Println()
	fmt.Println(state.FinalResponse)

	if last := state.LastResponse(); last != nil && len(last.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range last.Sources {
			fmt.Printf("  • %s\n", s)
		}
	}
}
