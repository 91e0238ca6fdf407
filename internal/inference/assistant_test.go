package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	response string
	err      error
	prompts  []string
	jsonMode []bool
}

func (s *stubCompleter) Complete(_ context.Context, prompt string, jsonMode bool) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.jsonMode = append(s.jsonMode, jsonMode)
	return s.response, s.err
}

func TestClassify(t *testing.T) {
	stub := &stubCompleter{response: `{"category":"Technical","urgency":"HIGH","confidence":1.4,"key_topics":["sso"],"requires_escalation":false}`}
	a := NewAssistant(stub, nil, nil)

	c, err := a.Classify(context.Background(), "SSO login fails for all users")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTechnical, c.Category)
	assert.Equal(t, models.UrgencyHigh, c.Urgency)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, []string{"sso"}, c.KeyTopics)
	assert.True(t, stub.jsonMode[0])
	assert.Contains(t, stub.prompts[0], "SSO login fails for all users")
}

func TestClassifyUnknownLabelsFallBack(t *testing.T) {
	stub := &stubCompleter{response: `{"category":"spaceflight","urgency":"whenever","confidence":0.6}`}
	c, err := NewAssistant(stub, nil, nil).Classify(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryGeneral, c.Category)
	assert.Equal(t, models.UrgencyMedium, c.Urgency)
	assert.Empty(t, c.KeyTopics)
}

func TestClassifyErrors(t *testing.T) {
	_, err := NewAssistant(&stubCompleter{err: errors.New("connection refused")}, nil, nil).Classify(context.Background(), "x")
	assert.Error(t, err)

	_, err = NewAssistant(&stubCompleter{response: "not json"}, nil, nil).Classify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestGenerate(t *testing.T) {
	stub := &stubCompleter{response: `{"response":"Re-upload the IdP certificate.","confidence":0.85,"sources_used":["kb-sso"],"requires_escalation":false}`}
	docs := []models.ContextDocument{{
		ID:        "kb-sso",
		Title:     "SSO troubleshooting",
		Content:   "Expired IdP certificates break SSO.",
		Category:  models.CategoryTechnical,
		Tags:      []string{"sso", "saml"},
		SourceURL: "https://docs.example.com/sso",
	}}

	gen, err := NewAssistant(stub, nil, nil).Generate(context.Background(), "SSO is broken", docs)
	require.NoError(t, err)
	assert.Equal(t, "Re-upload the IdP certificate.", gen.Response)
	assert.Equal(t, 0.85, gen.Confidence)
	assert.Equal(t, []string{"kb-sso"}, gen.SourcesUsed)

	prompt := stub.prompts[0]
	assert.Contains(t, prompt, "SSO troubleshooting")
	assert.Contains(t, prompt, "sso, saml")
	assert.Contains(t, prompt, "https://docs.example.com/sso")
}

func TestGenerateEmptyResponse(t *testing.T) {
	stub := &stubCompleter{response: `{"response":"  ","confidence":0.9}`}
	_, err := NewAssistant(stub, nil, nil).Generate(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestEmbedWithoutEmbedder(t *testing.T) {
	_, err := NewAssistant(&stubCompleter{}, nil, nil).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingUnsupported)
}

func TestCompleteJSON(t *testing.T) {
	stub := &stubCompleter{response: "```json\n{\"datetime\":\"2026-10-20T10:00:00Z\",\"confidence\":0.8}\n```"}
	var v struct {
		Datetime   string  `json:"datetime"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, NewAssistant(stub, nil, nil).CompleteJSON(context.Background(), "p", &v))
	assert.Equal(t, "2026-10-20T10:00:00Z", v.Datetime)
}
