package agent

import (
	"context"

	"github.com/quantumflow/supportflow/internal/knowledge"
	"github.com/quantumflow/supportflow/internal/models"
)

// Stage names recorded on StageResponse.AgentName
const (
	IntakeAgentName    = "intake_agent"
	KnowledgeAgentName = "knowledge_agent"
	WorkflowErrorName  = "workflow_error"
)

// Routing targets written by the intake stage
const (
	ComplianceHandler = "compliance_agent"
	DemoHandler       = "demo_agent"
	KnowledgeHandler  = "knowledge_agent"
	HumanHandler      = "human_support"
)

// Stage is one step of the support pipeline
type Stage interface {
	Name() string
	Handle(ctx context.Context, msg *models.Message) (*models.StageResponse, error)
}

// Classifier categorizes raw message content
type Classifier interface {
	Classify(ctx context.Context, content string) (*models.Classification, error)
}

// Generator writes an answer grounded in retrieved documents
type Generator interface {
	Generate(ctx context.Context, query string, docs []models.ContextDocument) (*models.Generation, error)
}

// Searcher is the read side of the knowledge store
type Searcher interface {
	Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]models.ScoredEntry, error)
}

// UsageTracker receives usage bookkeeping off the response path
type UsageTracker interface {
	Track(messageID string, retrieved, cited []string)
}

// Notifier delivers pipeline output to the customer's channel. All calls
// are best-effort from the pipeline's point of view.
type Notifier interface {
	SendAck(ctx context.Context, msg *models.Message, text string) error
	SendAnswer(ctx context.Context, msg *models.Message, text string, sources []string) error
	SendEscalation(ctx context.Context, msg *models.Message, reason string) error
}

// OutcomeSink receives a snapshot of every completed workflow
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, state *models.WorkflowState) error
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

func (NoopNotifier) SendAck(context.Context, *models.Message, string) error { return nil }

func (NoopNotifier) SendAnswer(context.Context, *models.Message, string, []string) error {
	return nil
}

func (NoopNotifier) SendEscalation(context.Context, *models.Message, string) error { return nil }
