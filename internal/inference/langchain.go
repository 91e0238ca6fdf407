package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantumflow/supportflow/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmbeddingUnsupported is returned by providers that cannot embed text
var ErrEmbeddingUnsupported = errors.New("provider does not support embeddings")

// LangchainCompleter adapts a langchaingo model to Completer
type LangchainCompleter struct {
	llm         llms.Model
	embedder    embeddings.Embedder
	modelName   string
	temperature float64
	health      *healthCache
}

// NewLangchainCompleter creates a completer for the configured provider
func NewLangchainCompleter(cfg config.LLMConfig) (*LangchainCompleter, error) {
	var model llms.Model
	var embedClient embeddings.EmbedderClient

	switch cfg.Provider {
	case "ollama":
		m, err := ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		model = m
		em, err := ollama.New(
			ollama.WithModel(cfg.EmbeddingModel),
			ollama.WithServerURL(cfg.OllamaURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedding model: %w", err)
		}
		embedClient = em

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		m, err := openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		model = m
		embedClient = m

	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		m, err := anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		model = m

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	lc := &LangchainCompleter{
		llm:         model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
	}
	if embedClient != nil {
		e, err := embeddings.NewEmbedder(embedClient)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		lc.embedder = e
	}
	lc.health = newHealthCache(30*time.Second, lc.ping)
	return lc, nil
}

// Complete implements Completer
func (l *LangchainCompleter) Complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(l.temperature)}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, l.llm, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return response, nil
}

// Embed returns the embedding for text, if the provider supports it
func (l *LangchainCompleter) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.embedder == nil {
		return nil, ErrEmbeddingUnsupported
	}
	vec, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned")
	}
	return vec, nil
}

// CanEmbed reports whether Embed is usable
func (l *LangchainCompleter) CanEmbed() bool {
	return l.embedder != nil
}

// Health issues a minimal generation, cached for 30 seconds
func (l *LangchainCompleter) Health(ctx context.Context) error {
	return l.health.check(ctx)
}

func (l *LangchainCompleter) ping(ctx context.Context) error {
	if _, err := llms.GenerateFromSinglePrompt(ctx, l.llm, "ping", llms.WithMaxTokens(1)); err != nil {
		return fmt.Errorf("%s unreachable: %w", l.modelName, err)
	}
	return nil
}
