package agent

import (
	"testing"

	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestShouldEscalate(t *testing.T) {
	p := NewEscalationPolicy(0.7, nil)

	tests := []struct {
		name       string
		confidence float64
		urgency    models.Urgency
		want       bool
	}{
		{"confident and calm", 0.9, models.UrgencyMedium, false},
		{"at threshold", 0.7, models.UrgencyHigh, false},
		{"below threshold", 0.69, models.UrgencyLow, true},
		{"critical overrides confidence", 0.99, models.UrgencyCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldEscalate(tt.confidence, tt.urgency))
		})
	}
}

func TestSensitiveKeywordsMatchWholeWords(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, []string{"data breach"}, p.SensitiveKeywords("We have a Data  Breach, help now!"))
	assert.Equal(t, []string{"legal", "outage"}, p.SensitiveKeywords("legal asked about the outage"))
	assert.Empty(t, p.SensitiveKeywords("paralegal team needs invoices"))
	assert.Empty(t, p.SensitiveKeywords(""))
}

func TestReasonJoinsAllTriggers(t *testing.T) {
	p := testPolicy()

	reason := p.Reason(ReasonInput{
		Urgency:      models.UrgencyCritical,
		Confidence:   0.2,
		ModelFlagged: true,
		Content:      "We have a data breach, help now!",
	})

	assert.Equal(t,
		"critical urgency; confidence 0.20 below threshold 0.70; flagged as complex by classifier; sensitive keywords: data breach",
		reason)
}

func TestReasonCustomFlagText(t *testing.T) {
	p := testPolicy()

	reason := p.Reason(ReasonInput{
		Urgency:       models.UrgencyLow,
		Confidence:    0.9,
		ModelFlagged:  true,
		ModelFlagText: "answer flagged for human review",
	})
	assert.Equal(t, "answer flagged for human review", reason)
}

func TestReasonFallsBackToGeneric(t *testing.T) {
	p := testPolicy()

	reason := p.Reason(ReasonInput{Urgency: models.UrgencyLow, Confidence: 0.95, Content: "hello"})
	assert.Equal(t, genericEscalationReason, reason)
}
