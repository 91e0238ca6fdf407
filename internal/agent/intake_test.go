package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntakeClassifiesAndMutatesMessage(t *testing.T) {
	classifier := &stubClassifier{cls: &models.Classification{
		Category:   models.CategoryCompliance,
		Urgency:    models.UrgencyHigh,
		Confidence: 0.85,
		KeyTopics:  []string{"gdpr"},
	}}
	agent := NewIntakeAgent(classifier, testPolicy(), 0.3, nil, nil)
	msg := newTestMessage("Where is our GDPR DPA?")

	resp, err := agent.Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, models.CategoryCompliance, msg.Category)
	assert.Equal(t, models.UrgencyHigh, msg.Urgency)
	require.NotNil(t, msg.Confidence)
	assert.Equal(t, 0.85, *msg.Confidence)
	assert.Equal(t, models.StatusInProgress, msg.Status)
	assert.Equal(t, ComplianceHandler, msg.AssignedAgent)

	assert.Equal(t, IntakeAgentName, resp.AgentName)
	assert.Equal(t, 0.85, resp.Confidence)
	assert.False(t, resp.Escalate)
	assert.Empty(t, resp.EscalationReason)
	assert.Contains(t, resp.Response, "5-10 minutes")
	assert.Equal(t, ComplianceHandler, resp.Metadata["routing_target"])
	assert.Equal(t, "model", resp.Metadata["classification_source"])
	assert.Equal(t, []string{"gdpr"}, resp.Metadata["key_topics"])
}

func TestIntakeFallbackOnClassifierError(t *testing.T) {
	classifier := &stubClassifier{err: errors.New("model timed out")}
	agent := NewIntakeAgent(classifier, testPolicy(), 0.3, nil, nil)
	msg := newTestMessage("hi")

	resp, err := agent.Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, models.CategoryGeneral, msg.Category)
	assert.Equal(t, models.UrgencyMedium, msg.Urgency)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.False(t, resp.Escalate)
	assert.Equal(t, "fallback", resp.Metadata["classification_source"])
	assert.Equal(t, []string{}, resp.Metadata["key_topics"])
}

func TestIntakeEscalationTriggers(t *testing.T) {
	tests := []struct {
		name       string
		cls        models.Classification
		content    string
		escalate   bool
		reasonPart string
	}{
		{
			name:     "confident routine request",
			cls:      models.Classification{Category: models.CategoryBilling, Urgency: models.UrgencyLow, Confidence: 0.9},
			content:  "Where is my invoice?",
			escalate: false,
		},
		{
			name:       "below intake threshold",
			cls:        models.Classification{Category: models.CategoryGeneral, Urgency: models.UrgencyLow, Confidence: 0.1},
			content:    "???",
			escalate:   true,
			reasonPart: "confidence 0.10 below threshold 0.70",
		},
		{
			name:     "between intake and shared thresholds",
			cls:      models.Classification{Category: models.CategoryTechnical, Urgency: models.UrgencyMedium, Confidence: 0.5},
			content:  "app is slow",
			escalate: false,
		},
		{
			name:       "classifier flagged",
			cls:        models.Classification{Category: models.CategoryTechnical, Urgency: models.UrgencyCritical, Confidence: 0.9, RequiresEscalation: true},
			content:    "total outage in prod",
			escalate:   true,
			reasonPart: "critical urgency; flagged as complex by classifier; sensitive keywords: outage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := tt.cls
			agent := NewIntakeAgent(&stubClassifier{cls: &cls}, testPolicy(), 0.3, nil, nil)

			resp, err := agent.Handle(context.Background(), newTestMessage(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.escalate, resp.Escalate)
			if tt.reasonPart != "" {
				assert.Contains(t, resp.EscalationReason, tt.reasonPart)
			}
		})
	}
}

func TestIntakeCriticalUsesShortestEstimate(t *testing.T) {
	classifier := &stubClassifier{cls: &models.Classification{
		Category:   models.CategoryTechnical,
		Urgency:    models.UrgencyCritical,
		Confidence: 0.8,
	}}
	agent := NewIntakeAgent(classifier, testPolicy(), 0.3, nil, nil)

	resp, err := agent.Handle(context.Background(), newTestMessage("prod down"))
	require.NoError(t, err)
	assert.Equal(t, "1-2 minutes", resp.Metadata["estimated_response_time"])
}

func TestIntakeClampsConfidence(t *testing.T) {
	classifier := &stubClassifier{cls: &models.Classification{
		Category:   models.CategoryDemo,
		Urgency:    models.UrgencyLow,
		Confidence: 1.7,
	}}
	agent := NewIntakeAgent(classifier, testPolicy(), 0.3, nil, nil)
	msg := newTestMessage("book a demo")

	resp, err := agent.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Equal(t, 1.0, *msg.Confidence)
	assert.Equal(t, DemoHandler, msg.AssignedAgent)
}

func TestIntakeUsesCache(t *testing.T) {
	classifier := &stubClassifier{cls: &models.Classification{
		Category:   models.CategoryBilling,
		Urgency:    models.UrgencyMedium,
		Confidence: 0.8,
	}}
	cache := NewClassificationCache(time.Minute)
	defer cache.Close()
	agent := NewIntakeAgent(classifier, testPolicy(), 0.3, cache, nil)

	first, err := agent.Handle(context.Background(), newTestMessage("Refund please"))
	require.NoError(t, err)
	second, err := agent.Handle(context.Background(), newTestMessage("refund   PLEASE"))
	require.NoError(t, err)

	assert.Equal(t, 1, classifier.calls)
	assert.Equal(t, "model", first.Metadata["classification_source"])
	assert.Equal(t, "cache", second.Metadata["classification_source"])
}

func TestIntakeDoesNotCacheFallback(t *testing.T) {
	classifier := &stubClassifier{err: errors.New("boom")}
	cache := NewClassificationCache(time.Minute)
	defer cache.Close()
	agent := NewIntakeAgent(classifier, testPolicy(), 0.3, cache, nil)

	_, err := agent.Handle(context.Background(), newTestMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len())
}
