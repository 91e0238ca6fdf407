package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/knowledge"
	"github.com/quantumflow/supportflow/internal/models"
)

var (
	promoteQuestion string
	promoteAnswer   string
	promoteCategory string
	promoteTags     []string
	promoteURL      string
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Turn a resolved case into a knowledge entry",
	Long: `Turn a question a human answered into a reusable knowledge entry.

Example:
  supportflow promote --question "Can I export audit logs?" \
    --answer "Yes, from Settings > Audit > Export." --category compliance --tags audit,export`,
	Args: cobra.NoArgs,
	RunE: runPromote,
}

func init() {
	promoteCmd.Flags().StringVarP(&promoteQuestion, "question", "q", "", "the customer's question")
	promoteCmd.Flags().StringVarP(&promoteAnswer, "answer", "a", "", "the answer that resolved it")
	promoteCmd.Flags().StringVar(&promoteCategory, "category", "general", "technical, compliance, billing, demo or general")
	promoteCmd.Flags().StringSliceVarP(&promoteTags, "tags", "t", nil, "tags for the entry")
	promoteCmd.Flags().StringVar(&promoteURL, "source-url", "", "documentation link for the answer")
	_ = promoteCmd.MarkFlagRequired("question")
	_ = promoteCmd.MarkFlagRequired("answer")
}

func runPromote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	category, err := models.ParseCategory(promoteCategory)
	if err != nil {
		return err
	}

	store, err := deps.openStore(ctx)
	if err != nil {
		return err
	}

	entry, err := knowledge.Promote(ctx, store, knowledge.PromoteRequest{
		Question:  promoteQuestion,
		Answer:    promoteAnswer,
		Category:  category,
		Tags:      promoteTags,
		SourceURL: promoteURL,
	})
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	fmt.Printf("Created entry %s: %s\n", entry.ID, entry.Title)
	return nil
}
