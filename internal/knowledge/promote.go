package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/quantumflow/supportflow/internal/models"
)

const maxTitleLength = 80

// PromoteRequest describes a human-resolved case worth keeping
type PromoteRequest struct {
	Question  string
	Answer    string
	Category  models.Category
	Tags      []string
	SourceURL string
}

// Promote turns a resolved question/answer pair into a knowledge entry.
// Promoted entries start at neutral effectiveness.
func Promote(ctx context.Context, store Store, req PromoteRequest) (*models.KnowledgeEntry, error) {
	question := strings.TrimSpace(req.Question)
	answer := strings.TrimSpace(req.Answer)
	if question == "" || answer == "" {
		return nil, fmt.Errorf("question and answer are required")
	}

	category := req.Category
	if category == "" {
		category = models.CategoryGeneral
	}

	tags := append([]string{"promoted"}, req.Tags...)

	entry := &models.KnowledgeEntry{
		Title:         titleFrom(question),
		Content:       fmt.Sprintf("Question: %s\n\nAnswer: %s", question, answer),
		Category:      category,
		Effectiveness: 0.5,
		Tags:          tags,
		SourceURL:     req.SourceURL,
	}

	if err := store.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to promote answer: %w", err)
	}
	return entry, nil
}

// titleFrom uses the first line of the question, shortened on a word boundary
func titleFrom(question string) string {
	title, _, _ := strings.Cut(question, "\n")
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}

	runes := []rune(title)[:maxTitleLength]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > maxTitleLength/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
