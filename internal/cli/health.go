package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the language model and knowledge store",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	failed := false
	report := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("✗ %-10s %v\n", name, err)
			return
		}
		fmt.Printf("✓ %-10s ok\n", name)
	}

	assistant, err := deps.openAssistant()
	if err != nil {
		report("llm", err)
	} else {
		report("llm", assistant.Health(ctx))
	}

	_, err = deps.openStore(ctx)
	report("knowledge", err)

	if cfg.Slack.BotToken != "" {
		slack, err := deps.slackConnector()
		if err == nil {
			_, err = slack.AuthTest(ctx)
		}
		report("slack", err)
	}

	if failed {
		return fmt.Errorf("health check failed")
	}
	return nil
}
