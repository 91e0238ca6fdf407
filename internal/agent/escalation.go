package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quantumflow/supportflow/internal/models"
)

const genericEscalationReason = "request requires human review"

// EscalationPolicy is the escalation rule shared by every stage that makes
// an escalation decision.
type EscalationPolicy struct {
	ConfidenceThreshold float64

	keywords []string
	patterns []*regexp.Regexp
}

// NewEscalationPolicy compiles the sensitive keyword list
func NewEscalationPolicy(confidenceThreshold float64, sensitiveKeywords []string) *EscalationPolicy {
	p := &EscalationPolicy{ConfidenceThreshold: confidenceThreshold}
	for _, kw := range sensitiveKeywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		words := strings.Fields(kw)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		p.keywords = append(p.keywords, kw)
		p.patterns = append(p.patterns, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	return p
}

// ShouldEscalate trips on low confidence or critical urgency
func (p *EscalationPolicy) ShouldEscalate(confidence float64, urgency models.Urgency) bool {
	return confidence < p.ConfidenceThreshold || urgency == models.UrgencyCritical
}

// SensitiveKeywords returns the configured keywords found in content
func (p *EscalationPolicy) SensitiveKeywords(content string) []string {
	var found []string
	for i, re := range p.patterns {
		if re.MatchString(content) {
			found = append(found, p.keywords[i])
		}
	}
	return found
}

// ReasonInput carries the signals a reason may be built from
type ReasonInput struct {
	Urgency       models.Urgency
	Confidence    float64
	ModelFlagged  bool
	Content       string
	ModelFlagText string
}

// Reason joins every matched trigger into one readable string. It falls
// back to a generic reason when nothing matched.
func (p *EscalationPolicy) Reason(in ReasonInput) string {
	var triggers []string

	if in.Urgency == models.UrgencyCritical {
		triggers = append(triggers, "critical urgency")
	}
	if in.Confidence < p.ConfidenceThreshold {
		triggers = append(triggers, fmt.Sprintf("confidence %.2f below threshold %.2f", in.Confidence, p.ConfidenceThreshold))
	}
	if in.ModelFlagged {
		text := in.ModelFlagText
		if text == "" {
			text = "flagged as complex by classifier"
		}
		triggers = append(triggers, text)
	}
	if in.Content != "" {
		if kws := p.SensitiveKeywords(in.Content); len(kws) > 0 {
			triggers = append(triggers, "sensitive keywords: "+strings.Join(kws, ", "))
		}
	}

	if len(triggers) == 0 {
		return genericEscalationReason
	}
	return strings.Join(triggers, "; ")
}
