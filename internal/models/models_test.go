package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestEstimatedResponseTime(t *testing.T) {
	assert.Equal(t, "3-5 minutes", EstimatedResponseTime(CategoryTechnical, UrgencyMedium))
	assert.Equal(t, "1-2 minutes", EstimatedResponseTime(CategoryTechnical, UrgencyCritical))
	for _, c := range []Category{CategoryTechnical, CategoryCompliance, CategoryBilling, CategoryDemo, CategoryGeneral} {
		assert.NotEmpty(t, EstimatedResponseTime(c, UrgencyLow), "category %s", c)
	}
}

func TestParseCategoryAndUrgency(t *testing.T) {
	c, err := ParseCategory(" Compliance ")
	require.NoError(t, err)
	assert.Equal(t, CategoryCompliance, c)

	_, err = ParseCategory("weather")
	assert.Error(t, err)

	u, err := ParseUrgency("URGENT")
	require.NoError(t, err)
	assert.Equal(t, UrgencyHigh, u)
}

func TestWorkflowStateEscalationIsSticky(t *testing.T) {
	s := NewWorkflowState(NewMessage("m1", "C1", "U1", "hi", time.Now()), time.Now())

	escalating := NewStageResponse("intake_agent", "ack", 0.9)
	escalating.Escalate = true
	escalating.EscalationReason = "critical urgency"
	s.Append(escalating)

	s.Append(NewStageResponse("knowledge_agent", "answer", 0.9))

	assert.True(t, s.Escalated)
	assert.Equal(t, "critical urgency", s.EscalationReason)
	assert.Equal(t, 2, s.AgentsUsed())
}

func TestWorkflowStateCompleteOnce(t *testing.T) {
	s := NewWorkflowState(NewMessage("m1", "C1", "U1", "hi", time.Now()), time.Now())
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, s.Complete(first))
	assert.False(t, s.Complete(first.Add(time.Hour)))
	assert.Equal(t, first, *s.ProcessingCompleted)
}

func TestApplyFeedback(t *testing.T) {
	e := &KnowledgeEntry{Effectiveness: 0.5}
	now := time.Now()
	e.ApplyFeedback(true, now)

	assert.Equal(t, 1, e.UsageCount)
	assert.InDelta(t, 0.55, e.Effectiveness, 1e-9)
	assert.Equal(t, now, e.LastUpdated)
	assert.InDelta(t, 0.45, NextEffectiveness(0.5, false), 1e-9)
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := NewWorkflowState(NewMessage("m1", "C1", "U1", "hi", time.Now()), time.Now())
	r := NewStageResponse("intake_agent", "ack", 0.9)
	r.Metadata["k"] = "v"
	s.Append(r)

	snap := s.Snapshot()
	snap.AgentResponses[0].Metadata["k"] = "changed"
	snap.Message.Content = "changed"

	assert.Equal(t, "v", s.AgentResponses[0].Metadata["k"])
	assert.Equal(t, "hi", s.Message.Content)
}
