package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantumflow/supportflow/internal/models"
)

// fallbackClassification is used whenever the classifier fails
var fallbackClassification = models.Classification{
	Category:   models.CategoryGeneral,
	Urgency:    models.UrgencyMedium,
	Confidence: 0.5,
	KeyTopics:  []string{},
}

// IntakeAgent classifies a message, decides whether it needs a human and
// suggests a handler. It never fails on classifier errors.
type IntakeAgent struct {
	classifier          Classifier
	cache               *ClassificationCache
	policy              *EscalationPolicy
	escalationThreshold float64
	logger              *slog.Logger
	now                 func() time.Time
}

// NewIntakeAgent creates the intake stage. cache may be nil.
// escalationThreshold is the intake-only confidence floor, distinct from
// the shared policy threshold.
func NewIntakeAgent(classifier Classifier, policy *EscalationPolicy, escalationThreshold float64, cache *ClassificationCache, logger *slog.Logger) *IntakeAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeAgent{
		classifier:          classifier,
		cache:               cache,
		policy:              policy,
		escalationThreshold: escalationThreshold,
		logger:              logger,
		now:                 time.Now,
	}
}

// Name implements Stage
func (a *IntakeAgent) Name() string { return IntakeAgentName }

// Handle implements Stage. The message is updated in place with the
// inferred category, urgency, confidence and routing target.
func (a *IntakeAgent) Handle(ctx context.Context, msg *models.Message) (*models.StageResponse, error) {
	start := a.now()

	cls, source := a.classify(ctx, msg)

	msg.Category = cls.Category
	msg.Urgency = cls.Urgency
	confidence := cls.Confidence
	msg.Confidence = &confidence
	msg.Status = models.StatusInProgress

	route := routeFor(cls.Category)
	msg.AssignedAgent = route

	estimate := models.EstimatedResponseTime(cls.Category, cls.Urgency)

	resp := models.NewStageResponse(IntakeAgentName, acknowledgement(cls, estimate), cls.Confidence)
	resp.Escalate = cls.RequiresEscalation || cls.Confidence < a.escalationThreshold
	if resp.Escalate {
		resp.EscalationReason = a.policy.Reason(ReasonInput{
			Urgency:      cls.Urgency,
			Confidence:   cls.Confidence,
			ModelFlagged: cls.RequiresEscalation,
			Content:      msg.Content,
		})
	}

	resp.Metadata["category"] = string(cls.Category)
	resp.Metadata["urgency"] = string(cls.Urgency)
	resp.Metadata["key_topics"] = cls.KeyTopics
	resp.Metadata["routing_target"] = route
	resp.Metadata["estimated_response_time"] = estimate
	resp.Metadata["classification_source"] = source
	resp.Metadata["requires_escalation"] = cls.RequiresEscalation
	resp.ProcessingTime = a.now().Sub(start)

	a.logger.Info("message classified",
		"message_id", msg.ID,
		"category", cls.Category,
		"urgency", cls.Urgency,
		"confidence", cls.Confidence,
		"source", source,
		"escalate", resp.Escalate,
	)

	return resp, nil
}

// classify consults the cache, then the classifier. Fallbacks are not cached.
func (a *IntakeAgent) classify(ctx context.Context, msg *models.Message) (*models.Classification, string) {
	if a.cache != nil {
		if cls, ok := a.cache.Get(msg.Content); ok {
			return cls, "cache"
		}
	}

	cls, err := a.classifier.Classify(ctx, msg.Content)
	if err != nil || cls == nil {
		a.logger.Warn("classification failed, using fallback", "message_id", msg.ID, "error", err)
		fb := fallbackClassification
		fb.KeyTopics = []string{}
		return &fb, "fallback"
	}

	cls.Confidence = models.ClampConfidence(cls.Confidence)
	if cls.KeyTopics == nil {
		cls.KeyTopics = []string{}
	}
	if a.cache != nil {
		a.cache.Set(msg.Content, cls)
	}
	return cls, "model"
}
