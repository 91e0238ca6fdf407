package models

import (
	"fmt"
	"strings"
	"time"
)

// Urgency is how quickly a message needs a human-visible reaction
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Category is the support area a message belongs to
type Category string

const (
	CategoryTechnical  Category = "technical"
	CategoryCompliance Category = "compliance"
	CategoryBilling    Category = "billing"
	CategoryDemo       Category = "demo"
	CategoryGeneral    Category = "general"
)

// ResolutionStatus tracks where a message is in its lifecycle
type ResolutionStatus string

const (
	StatusPending    ResolutionStatus = "pending"
	StatusInProgress ResolutionStatus = "in_progress"
	StatusResolved   ResolutionStatus = "resolved"
	StatusEscalated  ResolutionStatus = "escalated"
)

// Message is an inbound support request
type Message struct {
	ID            string                 `json:"id"`
	ChannelID     string                 `json:"channel_id"`
	UserID        string                 `json:"user_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Content       string                 `json:"content"`
	ThreadTS      string                 `json:"thread_ts,omitempty"`
	Urgency       Urgency                `json:"urgency"`
	Category      Category               `json:"category"`
	Confidence    *float64               `json:"confidence,omitempty"`
	Status        ResolutionStatus       `json:"status"`
	AssignedAgent string                 `json:"assigned_agent,omitempty"`
	ResponseTime  *time.Duration         `json:"response_time,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewMessage creates a pending message with default classification
func NewMessage(id, channelID, userID, content string, ts time.Time) *Message {
	return &Message{
		ID:        id,
		ChannelID: channelID,
		UserID:    userID,
		Timestamp: ts,
		Content:   content,
		Urgency:   UrgencyMedium,
		Category:  CategoryGeneral,
		Status:    StatusPending,
		Metadata:  make(map[string]interface{}),
	}
}

// ReplyThread returns the thread a reply to this message belongs in
func (m *Message) ReplyThread() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	if ts, ok := m.Metadata["slack_ts"].(string); ok {
		return ts
	}
	return ""
}

// ParseUrgency normalizes free-form LLM output into an Urgency
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow, nil
	case "medium", "normal", "moderate":
		return UrgencyMedium, nil
	case "high", "urgent":
		return UrgencyHigh, nil
	case "critical", "emergency":
		return UrgencyCritical, nil
	default:
		return "", fmt.Errorf("unknown urgency %q", s)
	}
}

// ParseCategory normalizes free-form LLM output into a Category
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "technical", "tech", "support":
		return CategoryTechnical, nil
	case "compliance", "legal", "security":
		return CategoryCompliance, nil
	case "billing", "payment", "invoice":
		return CategoryBilling, nil
	case "demo", "sales", "scheduling":
		return CategoryDemo, nil
	case "general", "other":
		return CategoryGeneral, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// EstimatedResponseTime returns the response-time band promised to the user.
// Critical urgency always gets the shortest band.
func EstimatedResponseTime(category Category, urgency Urgency) string {
	if urgency == UrgencyCritical {
		return "1-2 minutes"
	}

	switch category {
	case CategoryTechnical:
		return "3-5 minutes"
	case CategoryCompliance:
		return "5-10 minutes"
	case CategoryBilling:
		return "2-4 minutes"
	case CategoryDemo:
		return "2-3 minutes"
	case CategoryGeneral:
		return "2-5 minutes"
	default:
		panic(fmt.Sprintf("models: unhandled category %q", category))
	}
}

// ClampConfidence bounds a score to [0, 1]
func ClampConfidence(c float64) float64 {
	if c != c || c < 0 { // NaN or negative
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
