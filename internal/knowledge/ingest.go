package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quantumflow/supportflow/internal/models"
	"gopkg.in/yaml.v3"
)

// entryFile is the on-disk layout accepted by LoadEntries
type entryFile struct {
	Entries []*models.KnowledgeEntry `yaml:"entries"`
}

// LoadEntries reads knowledge entries from a YAML file with a top-level
// "entries" list
func LoadEntries(path string) ([]*models.KnowledgeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseEntries(data)
}

// ParseEntries decodes and validates YAML entry data
func ParseEntries(data []byte) ([]*models.KnowledgeEntry, error) {
	var f entryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse entries: %w", err)
	}

	for i, e := range f.Entries {
		if e == nil || strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Content) == "" {
			return nil, fmt.Errorf("entry %d: title and content are required", i)
		}
		if e.Category == "" {
			e.Category = models.CategoryGeneral
			continue
		}
		cat, err := models.ParseCategory(string(e.Category))
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.Title, err)
		}
		e.Category = cat
	}
	return f.Entries, nil
}

// Ingest upserts entries one by one and reports how many were stored.
// It stops at the first failure.
func Ingest(ctx context.Context, store Store, entries []*models.KnowledgeEntry, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for i, e := range entries {
		if err := store.Upsert(ctx, e); err != nil {
			return i, fmt.Errorf("failed to ingest %q: %w", e.Title, err)
		}
		logger.Debug("ingested knowledge entry", "id", e.ID, "title", e.Title, "category", e.Category)
	}
	return len(entries), nil
}
