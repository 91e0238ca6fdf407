package models

import "time"

// StageResponse is the output of one handling stage. Build it with
// NewStageResponse so the confidence invariant holds.
type StageResponse struct {
	AgentName        string                 `json:"agent_name"`
	Response         string                 `json:"response"`
	Confidence       float64                `json:"confidence"`
	ProcessingTime   time.Duration          `json:"processing_time"`
	Sources          []string               `json:"sources"`
	Escalate         bool                   `json:"escalate"`
	EscalationReason string                 `json:"escalation_reason,omitempty"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// NewStageResponse creates a response with a clamped confidence score
func NewStageResponse(agent, text string, confidence float64) *StageResponse {
	return &StageResponse{
		AgentName:  agent,
		Response:   text,
		Confidence: ClampConfidence(confidence),
		Sources:    []string{},
		Metadata:   make(map[string]interface{}),
	}
}

// WorkflowState accumulates everything that happened to one message
type WorkflowState struct {
	Message             *Message         `json:"message"`
	AgentResponses      []*StageResponse `json:"agent_responses"`
	FinalResponse       string           `json:"final_response"`
	Escalated           bool             `json:"escalated"`
	EscalationReason    string           `json:"escalation_reason,omitempty"`
	ProcessingStarted   time.Time        `json:"processing_started"`
	ProcessingCompleted *time.Time       `json:"processing_completed,omitempty"`
}

// NewWorkflowState starts tracking a message
func NewWorkflowState(msg *Message, started time.Time) *WorkflowState {
	return &WorkflowState{
		Message:           msg,
		AgentResponses:    make([]*StageResponse, 0, 2),
		ProcessingStarted: started,
	}
}

// Append records a stage response. Escalation is sticky.
func (s *WorkflowState) Append(resp *StageResponse) {
	s.AgentResponses = append(s.AgentResponses, resp)
	if resp.Escalate {
		s.MarkEscalated(resp.EscalationReason)
	}
}

// MarkEscalated sets the escalation flag; it is never cleared
func (s *WorkflowState) MarkEscalated(reason string) {
	s.Escalated = true
	if reason != "" {
		s.EscalationReason = reason
	}
}

// Complete stamps the completion time. Only the first call has any effect.
func (s *WorkflowState) Complete(at time.Time) bool {
	if s.ProcessingCompleted != nil {
		return false
	}
	s.ProcessingCompleted = &at
	return true
}

// AgentsUsed is the number of stages that produced a response
func (s *WorkflowState) AgentsUsed() int {
	return len(s.AgentResponses)
}

// LastResponse returns the most recent stage response, or nil
func (s *WorkflowState) LastResponse() *StageResponse {
	if len(s.AgentResponses) == 0 {
		return nil
	}
	return s.AgentResponses[len(s.AgentResponses)-1]
}

// Snapshot returns a copy that is safe to hand to other goroutines
func (s *WorkflowState) Snapshot() *WorkflowState {
	cp := *s
	if s.Message != nil {
		msg := *s.Message
		msg.Metadata = copyMap(s.Message.Metadata)
		cp.Message = &msg
	}
	cp.AgentResponses = make([]*StageResponse, len(s.AgentResponses))
	for i, r := range s.AgentResponses {
		rc := *r
		rc.Sources = append([]string(nil), r.Sources...)
		rc.Metadata = copyMap(r.Metadata)
		cp.AgentResponses[i] = &rc
	}
	return &cp
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Classification is the structured output of the intake classifier
type Classification struct {
	Category           Category `json:"category"`
	Urgency            Urgency  `json:"urgency"`
	Confidence         float64  `json:"confidence"`
	KeyTopics          []string `json:"key_topics"`
	RequiresEscalation bool     `json:"requires_escalation"`
}

// ContextDocument is one retrieved document handed to the generator
type ContextDocument struct {
	ID        string
	Title     string
	Content   string
	Category  Category
	Tags      []string
	SourceURL string
	Score     float64
}

// Generation is the structured output of grounded answer generation
type Generation struct {
	Response           string   `json:"response"`
	Confidence         float64  `json:"confidence"`
	SourcesUsed        []string `json:"sources_used"`
	RequiresEscalation bool     `json:"requires_escalation"`
}
