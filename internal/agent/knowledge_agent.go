package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantumflow/supportflow/internal/knowledge"
	"github.com/quantumflow/supportflow/internal/models"
)

const notFoundReason = "no relevant knowledge found"

// KnowledgeConfig tunes retrieval
type KnowledgeConfig struct {
	TopK             int
	MinScore         float64
	FilterByCategory bool
}

// DefaultKnowledgeConfig returns the retrieval defaults
func DefaultKnowledgeConfig() *KnowledgeConfig {
	return &KnowledgeConfig{
		TopK:             5,
		MinScore:         0.4,
		FilterByCategory: true,
	}
}

// KnowledgeAgent answers a message from the knowledge base
type KnowledgeAgent struct {
	searcher  Searcher
	generator Generator
	usage     UsageTracker
	policy    *EscalationPolicy
	config    *KnowledgeConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewKnowledgeAgent creates the knowledge stage. usage may be nil.
func NewKnowledgeAgent(searcher Searcher, generator Generator, usage UsageTracker, policy *EscalationPolicy, config *KnowledgeConfig, logger *slog.Logger) *KnowledgeAgent {
	if config == nil {
		config = DefaultKnowledgeConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeAgent{
		searcher:  searcher,
		generator: generator,
		usage:     usage,
		policy:    policy,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements Stage
func (a *KnowledgeAgent) Name() string { return KnowledgeAgentName }

// Handle implements Stage
func (a *KnowledgeAgent) Handle(ctx context.Context, msg *models.Message) (*models.StageResponse, error) {
	start := a.now()

	opts := knowledge.SearchOptions{TopK: a.config.TopK, MinScore: a.config.MinScore}
	if a.config.FilterByCategory && msg.Category != models.CategoryGeneral {
		category := msg.Category
		opts.Category = &category
	}

	results, err := a.searcher.Search(ctx, msg.Content, opts)
	if err != nil {
		a.logger.Warn("knowledge search failed, treating as no results", "message_id", msg.ID, "error", err)
		results = nil
	}

	if len(results) == 0 {
		resp := a.terminal(msg, notFoundReason)
		resp.Metadata["documents_used"] = 0
		resp.ProcessingTime = a.now().Sub(start)
		return resp, nil
	}

	docs := make([]models.ContextDocument, len(results))
	retrieved := make([]string, len(results))
	scores := make([]float64, len(results))
	byID := make(map[string]*models.KnowledgeEntry, len(results))
	for i, r := range results {
		docs[i] = models.ContextDocument{
			ID:        r.Entry.ID,
			Title:     r.Entry.Title,
			Content:   r.Entry.Content,
			Category:  r.Entry.Category,
			Tags:      r.Entry.Tags,
			SourceURL: r.Entry.SourceURL,
			Score:     r.Score,
		}
		retrieved[i] = r.Entry.ID
		scores[i] = r.Score
		byID[r.Entry.ID] = r.Entry
	}

	gen, err := a.generator.Generate(ctx, msg.Content, docs)
	if err == nil && gen == nil {
		err = errors.New("generator returned no answer")
	}
	if err != nil {
		a.logger.Warn("answer generation failed", "message_id", msg.ID, "error", err)
		resp := a.terminal(msg, fmt.Sprintf("answer generation failed: %v", err))
		resp.Metadata["documents_used"] = len(docs)
		resp.Metadata["relevance_scores"] = scores
		resp.ProcessingTime = a.now().Sub(start)
		return resp, nil
	}

	// Only ids that were actually retrieved count as citations.
	cited := make([]string, 0, len(gen.SourcesUsed))
	sources := make([]string, 0, len(gen.SourcesUsed))
	for _, id := range gen.SourcesUsed {
		entry, ok := byID[id]
		if !ok {
			continue
		}
		cited = append(cited, id)
		sources = append(sources, sourceLabel(entry))
	}

	if a.usage != nil {
		a.usage.Track(msg.ID, retrieved, cited)
	}

	resp := models.NewStageResponse(KnowledgeAgentName, gen.Response, gen.Confidence)
	resp.Sources = sources
	resp.Escalate = gen.RequiresEscalation || a.policy.ShouldEscalate(resp.Confidence, msg.Urgency)
	if resp.Escalate {
		resp.EscalationReason = a.policy.Reason(ReasonInput{
			Urgency:       msg.Urgency,
			Confidence:    resp.Confidence,
			ModelFlagged:  gen.RequiresEscalation,
			ModelFlagText: "answer flagged for human review",
		})
	}

	resp.Metadata["documents_used"] = len(docs)
	resp.Metadata["relevance_scores"] = scores
	resp.Metadata["sources_cited"] = cited
	resp.ProcessingTime = a.now().Sub(start)

	a.logger.Info("knowledge answer generated",
		"message_id", msg.ID,
		"documents", len(docs),
		"cited", len(cited),
		"confidence", resp.Confidence,
		"escalate", resp.Escalate,
	)

	return resp, nil
}

// terminal builds a zero-confidence escalating response
func (a *KnowledgeAgent) terminal(msg *models.Message, reason string) *models.StageResponse {
	resp := models.NewStageResponse(KnowledgeAgentName, fallbackResponse(msg.Category), 0)
	resp.Escalate = true
	resp.EscalationReason = reason
	return resp
}

func sourceLabel(e *models.KnowledgeEntry) string {
	if e.SourceURL != "" {
		return fmt.Sprintf("%s (%s)", e.Title, e.SourceURL)
	}
	return e.Title
}
