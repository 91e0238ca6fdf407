package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/knowledge"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.yaml>",
	Short: "Load knowledge entries from a YAML file",
	Long: `Load knowledge entries from a YAML file into the configured store.

Entries with an id replace the stored entry with the same id; entries
without one get a new id.

Example file:
  - id: kb-sso
    title: Configuring SSO
    category: technical
    tags: [sso, saml]
    source_url: https://docs.example.com/sso
    content: |
      Go to Settings > Security > SSO and upload your IdP metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	entries, err := knowledge.LoadEntries(args[0])
	if err != nil {
		return err
	}

	store, err := deps.openStore(ctx)
	if err != nil {
		return err
	}

	n, err := knowledge.Ingest(ctx, store, entries, logger)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", args[0], err)
	}
	fmt.Printf("Ingested %d of %d entries into %s store\n", n, len(entries), cfg.Knowledge.Backend)
	return nil
}
