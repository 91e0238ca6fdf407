package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/server"
)

var serveMaxConcurrent int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack Events API server",
	Long: `Run the HTTP server that receives Slack events.

Requires SLACK_BOT_TOKEN and SLACK_SIGNING_SECRET. Point the Slack app's
Event Subscriptions request URL at https://<host>/slack/events.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveMaxConcurrent, "max-concurrent", 16, "messages processed in parallel")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.Slack.BotToken == "" || cfg.Slack.SigningSecret == "" {
		return fmt.Errorf("slack bot token and signing secret are required")
	}

	workflow, err := deps.openWorkflow(ctx, true)
	if err != nil {
		return err
	}

	slack, err := deps.slackConnector()
	if err != nil {
		return err
	}
	botUser, err := slack.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	logger.Info("connected to slack", "bot_user", botUser)

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		SigningSecret:   cfg.Slack.SigningSecret,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxConcurrent:   serveMaxConcurrent,
		Version:         Version,
		Processor:       workflow,
		Checks:          map[string]server.HealthChecker{"llm": deps.assistant},
		Logger:          logger,
	})
	return srv.Run(ctx)
}
