package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quantumflow/supportflow/internal/config"
	"github.com/quantumflow/supportflow/internal/knowledge"
	"github.com/quantumflow/supportflow/internal/models"
)

type stubClassifier struct {
	mu    sync.Mutex
	cls   *models.Classification
	err   error
	calls int
}

func (s *stubClassifier) Classify(ctx context.Context, content string) (*models.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := *s.cls
	out.KeyTopics = append([]string(nil), s.cls.KeyTopics...)
	return &out, nil
}

type stubSearcher struct {
	mu       sync.Mutex
	results  []models.ScoredEntry
	err      error
	calls    int
	lastOpts knowledge.SearchOptions
}

func (s *stubSearcher) Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]models.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubGenerator struct {
	gen      *models.Generation
	err      error
	lastDocs []models.ContextDocument
}

func (s *stubGenerator) Generate(ctx context.Context, query string, docs []models.ContextDocument) (*models.Generation, error) {
	s.lastDocs = docs
	if s.err != nil {
		return nil, s.err
	}
	if s.gen == nil {
		return nil, nil
	}
	out := *s.gen
	return &out, nil
}

type trackedUsage struct {
	messageID string
	retrieved []string
	cited     []string
}

type stubUsage struct {
	mu    sync.Mutex
	calls []trackedUsage
}

func (s *stubUsage) Track(messageID string, retrieved, cited []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, trackedUsage{messageID, retrieved, cited})
}

type sentNotification struct {
	kind    string
	text    string
	sources []string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) record(s sentNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, s)
	return n.err
}

func (n *recordingNotifier) SendAck(ctx context.Context, msg *models.Message, text string) error {
	return n.record(sentNotification{kind: "ack", text: text})
}

func (n *recordingNotifier) SendAnswer(ctx context.Context, msg *models.Message, text string, sources []string) error {
	return n.record(sentNotification{kind: "answer", text: text, sources: sources})
}

func (n *recordingNotifier) SendEscalation(ctx context.Context, msg *models.Message, reason string) error {
	return n.record(sentNotification{kind: "escalation", text: reason})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.kind
	}
	return out
}

type panicStage struct{ name string }

func (p panicStage) Name() string { return p.name }

func (p panicStage) Handle(context.Context, *models.Message) (*models.StageResponse, error) {
	panic("retrieval exploded")
}

type errStage struct{ name string }

func (e errStage) Name() string { return e.name }

func (e errStage) Handle(context.Context, *models.Message) (*models.StageResponse, error) {
	return nil, errors.New("backend unavailable")
}

// countingStage wraps a stage and counts invocations
type countingStage struct {
	Stage
	mu    sync.Mutex
	calls int
}

func (c *countingStage) Handle(ctx context.Context, msg *models.Message) (*models.StageResponse, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Stage.Handle(ctx, msg)
}

type recordingSink struct {
	mu     sync.Mutex
	states []*models.WorkflowState
	err    error
}

func (s *recordingSink) RecordOutcome(ctx context.Context, state *models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return s.err
}

func testPolicy() *EscalationPolicy {
	cfg := config.Default().Workflow
	return NewEscalationPolicy(cfg.ConfidenceThreshold, cfg.SensitiveKeywords)
}

func testWorkflowConfig() config.WorkflowConfig {
	cfg := config.Default().Workflow
	cfg.StageTimeout = 5 * time.Second
	cfg.NotifyTimeout = time.Second
	return cfg
}

func newTestMessage(content string) *models.Message {
	return models.NewMessage("msg-1", "C123", "U456", content, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
}

func ssoEntry() models.ScoredEntry {
	return models.ScoredEntry{
		Entry: &models.KnowledgeEntry{
			ID:            "kb-sso",
			Title:         "Configuring SSO",
			Content:       "Go to Settings > Security > SSO and upload your IdP metadata.",
			Category:      models.CategoryTechnical,
			Tags:          []string{"sso", "saml"},
			SourceURL:     "https://docs.example.com/sso",
			Effectiveness: 0.5,
		},
		Score: 0.6,
	}
}
