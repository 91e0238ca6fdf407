package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// ErrModelMissing is reported by Health when Ollama is up but the
// configured model has not been pulled.
var ErrModelMissing = errors.New("model not available in ollama")

// Config holds the inference client configuration
type Config struct {
	OllamaURL      string  // Default: http://localhost:11434
	Model          string  // Default: qwen2.5:7b
	EmbeddingModel string  // Default: all-minilm:l6-v2
	ContextSize    int     // Default: 8192
	Temperature    float64 // Default: 0.2
	Timeout        time.Duration
	HealthTTL      time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		OllamaURL:      "http://localhost:11434",
		Model:          "qwen2.5:7b",
		EmbeddingModel: "all-minilm:l6-v2",
		ContextSize:    8192,
		Temperature:    0.2,
		Timeout:        2 * time.Minute,
		HealthTTL:      5 * time.Second,
	}
}

// Client talks to Ollama's native HTTP API
type Client struct {
	config     *Config
	httpClient *http.Client
	health     *healthCache
}

// NewClient creates a new inference client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
	c.health = newHealthCache(config.HealthTTL, c.ping)
	return c
}

type generateOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
}

// Completion is one finished generation
type Completion struct {
	Text         string
	PromptTokens int
	OutputTokens int
	EvalTime     time.Duration
	Latency      time.Duration
}

// TokensPerSecond is the model's output rate, or 0 when unreported
func (c *Completion) TokensPerSecond() float64 {
	if c.OutputTokens == 0 || c.EvalTime <= 0 {
		return 0
	}
	return float64(c.OutputTokens) / c.EvalTime.Seconds()
}

// Generate runs a non-streaming generation. jsonMode constrains the output
// to a JSON document.
func (c *Client) Generate(ctx context.Context, prompt string, jsonMode bool) (*Completion, error) {
	req := generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Options: generateOptions{
			NumCtx:      c.config.ContextSize,
			Temperature: c.config.Temperature,
		},
	}
	if jsonMode {
		req.Format = "json"
	}

	start := time.Now()
	var resp generateResponse
	if err := c.call(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, fmt.Errorf("generate with %s: %w", c.config.Model, err)
	}
	return &Completion{
		Text:         resp.Response,
		PromptTokens: resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
		EvalTime:     time.Duration(resp.EvalDuration),
		Latency:      time.Since(start),
	}, nil
}

// Complete implements Completer
func (c *Client) Complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	out, err := c.Generate(ctx, prompt, jsonMode)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Embed returns the embedding vector for text using the embedding model
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}{Model: c.config.EmbeddingModel, Input: text}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned")
	}
	return resp.Embeddings[0], nil
}

// Models lists the models pulled into the Ollama instance
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Health reports whether Ollama is reachable and serves the configured
// model. Results are cached briefly.
func (c *Client) Health(ctx context.Context) error {
	return c.health.check(ctx)
}

func (c *Client) ping(ctx context.Context) error {
	names, err := c.Models(ctx)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.config.OllamaURL, err)
	}
	if !slices.Contains(names, c.config.Model) && !slices.Contains(names, c.config.Model+":latest") {
		return fmt.Errorf("%w: %s", ErrModelMissing, c.config.Model)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.OllamaURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
