package models

import "time"

// effectivenessWeight is how far one piece of feedback moves the score
const effectivenessWeight = 0.1

// KnowledgeEntry is a retrievable document used to ground answers
type KnowledgeEntry struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	Content       string    `json:"content" yaml:"content"`
	Category      Category  `json:"category" yaml:"category"`
	LastUpdated   time.Time `json:"last_updated" yaml:"last_updated"`
	UsageCount    int       `json:"usage_count" yaml:"usage_count"`
	Effectiveness float64   `json:"effectiveness" yaml:"effectiveness"`
	Tags          []string  `json:"tags" yaml:"tags"`
	SourceURL     string    `json:"source_url,omitempty" yaml:"source_url,omitempty"`
}

// ApplyFeedback records one use of the entry. Effectiveness is an
// exponential moving average of helpful (1) / unhelpful (0) outcomes.
func (e *KnowledgeEntry) ApplyFeedback(helpful bool, now time.Time) {
	e.UsageCount++
	signal := 0.0
	if helpful {
		signal = 1.0
	}
	e.Effectiveness = ClampConfidence(e.Effectiveness*(1-effectivenessWeight) + signal*effectivenessWeight)
	e.LastUpdated = now
}

// NextEffectiveness is ApplyFeedback's score update, for stores that
// update the score server-side
func NextEffectiveness(current float64, helpful bool) float64 {
	e := KnowledgeEntry{Effectiveness: current}
	e.ApplyFeedback(helpful, time.Time{})
	return e.Effectiveness
}

// EmbeddingText is the text indexed for similarity search
func (e *KnowledgeEntry) EmbeddingText() string {
	return e.Title + "\n\n" + e.Content
}

// ScoredEntry is a knowledge entry paired with its relevance to a query
type ScoredEntry struct {
	Entry *KnowledgeEntry `json:"entry"`
	Score float64         `json:"score"`
}
