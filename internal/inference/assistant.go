package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantumflow/supportflow/internal/models"
)

// Completer produces a single completion for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HealthChecker reports backend reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Assistant exposes the structured operations the support pipeline needs
// on top of a raw Completer.
type Assistant struct {
	completer Completer
	embedder  Embedder
	logger    *slog.Logger
}

// NewAssistant wires a completer and an embedder. The embedder may be nil.
func NewAssistant(completer Completer, embedder Embedder, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		completer: completer,
		embedder:  embedder,
		logger:    logger,
	}
}

type rawClassification struct {
	Category           string   `json:"category"`
	Urgency            string   `json:"urgency"`
	Confidence         float64  `json:"confidence"`
	KeyTopics          []string `json:"key_topics"`
	RequiresEscalation bool     `json:"requires_escalation"`
}

// Classify asks the model to categorize a support message
func (a *Assistant) Classify(ctx context.Context, content string) (*models.Classification, error) {
	raw, err := a.completer.Complete(ctx, buildClassificationPrompt(content), true)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	var rc rawClassification
	if err := ExtractJSON(raw, &rc); err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}

	category, err := models.ParseCategory(rc.Category)
	if err != nil {
		a.logger.Debug("unknown category from model, using general", "value", rc.Category)
		category = models.CategoryGeneral
	}
	urgency, err := models.ParseUrgency(rc.Urgency)
	if err != nil {
		a.logger.Debug("unknown urgency from model, using medium", "value", rc.Urgency)
		urgency = models.UrgencyMedium
	}

	topics := rc.KeyTopics
	if topics == nil {
		topics = []string{}
	}

	return &models.Classification{
		Category:           category,
		Urgency:            urgency,
		Confidence:         models.ClampConfidence(rc.Confidence),
		KeyTopics:          topics,
		RequiresEscalation: rc.RequiresEscalation,
	}, nil
}

// Generate produces an answer grounded in docs
func (a *Assistant) Generate(ctx context.Context, query string, docs []models.ContextDocument) (*models.Generation, error) {
	raw, err := a.completer.Complete(ctx, buildGenerationPrompt(query, docs), true)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	var gen models.Generation
	if err := ExtractJSON(raw, &gen); err != nil {
		return nil, fmt.Errorf("failed to parse generation: %w", err)
	}
	if strings.TrimSpace(gen.Response) == "" {
		return nil, fmt.Errorf("generation returned an empty response")
	}

	gen.Confidence = models.ClampConfidence(gen.Confidence)
	if gen.SourcesUsed == nil {
		gen.SourcesUsed = []string{}
	}
	return &gen, nil
}

// CompleteJSON runs an arbitrary prompt in JSON mode and decodes the result into v
func (a *Assistant) CompleteJSON(ctx context.Context, prompt string, v interface{}) error {
	raw, err := a.completer.Complete(ctx, prompt, true)
	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}
	return ExtractJSON(raw, v)
}

// Embed delegates to the configured embedder
func (a *Assistant) Embed(ctx context.Context, text string) ([]float32, error) {
	if a.embedder == nil {
		return nil, ErrEmbeddingUnsupported
	}
	return a.embedder.Embed(ctx, text)
}

// Health checks the completer backend and, if distinct, the embedder backend
func (a *Assistant) Health(ctx context.Context) error {
	var errs []error
	if hc, ok := a.completer.(HealthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if hc, ok := a.embedder.(HealthChecker); ok && !sameBackend(a.completer, a.embedder) {
		if err := hc.Health(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sameBackend(c Completer, e Embedder) bool {
	ce, ok := c.(Embedder)
	return ok && ce == e
}
