package casegraph

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *models.WorkflowState {
	started := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	msg := models.NewMessage("Ev1", "C1", "U1", "SSO fails", started)
	msg.Category = models.CategoryTechnical
	msg.Urgency = models.UrgencyHigh
	msg.Status = models.StatusResolved

	state := models.NewWorkflowState(msg, started)
	intake := models.NewStageResponse("intake_agent", "ack", 0.9)
	intake.Metadata["key_topics"] = []string{"sso", "saml"}
	state.Append(intake)

	answer := models.NewStageResponse("knowledge_agent", "Rotate the certificate.", 0.8)
	answer.Metadata["sources_cited"] = []string{"kb-sso"}
	answer.Metadata["key_topics"] = []string{"sso"}
	state.Append(answer)
	state.FinalResponse = answer.Response
	state.Complete(started.Add(time.Second))
	return state
}

func TestBuildCaseUpsert(t *testing.T) {
	req, err := buildCaseUpsert(sampleState())
	require.NoError(t, err)

	assert.True(t, req.CommitNow)
	assert.Equal(t, map[string]string{
		"$case":     "Ev1",
		"$customer": "U1",
		"$t0":       "sso",
		"$t1":       "saml",
		"$a0":       "kb-sso",
	}, req.Vars)
	assert.Contains(t, req.Query, "query q($case: string, $customer: string, $t0: string, $t1: string, $a0: string)")
	assert.Contains(t, req.Query, "t1 as var(func: eq(topic.name, $t1))")
	assert.Contains(t, req.Query, "a0 as var(func: eq(article.id, $a0))")

	require.Len(t, req.Mutations, 1)
	var node map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Mutations[0].SetJson, &node))
	assert.Equal(t, "uid(case)", node["uid"])
	assert.Equal(t, "technical", node["case.category"])
	assert.Equal(t, "Rotate the certificate.", node["case.resolution"])
	assert.Equal(t, 0.8, node["case.confidence"])
	assert.Equal(t, "2026-04-01T10:00:00Z", node["case.created"])

	customer := node["case.customer"].(map[string]interface{})
	assert.Equal(t, "uid(customer)", customer["uid"])

	topics := node["case.topics"].([]interface{})
	assert.Len(t, topics, 2)
	articles := node["case.answered_by"].([]interface{})
	require.Len(t, articles, 1)
	assert.Equal(t, "kb-sso", articles[0].(map[string]interface{})["article.id"])
}

func TestBuildCaseUpsertWithoutEdges(t *testing.T) {
	msg := models.NewMessage("Ev2", "C1", "U2", "hello", time.Now())
	state := models.NewWorkflowState(msg, time.Now())

	req, err := buildCaseUpsert(state)
	require.NoError(t, err)

	var node map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Mutations[0].SetJson, &node))
	assert.NotContains(t, node, "case.topics")
	assert.NotContains(t, node, "case.answered_by")
	assert.NotContains(t, node, "case.confidence")
}

func TestBuildCaseUpsertRejectsEmptyState(t *testing.T) {
	_, err := buildCaseUpsert(&models.WorkflowState{})
	assert.Error(t, err)
	_, err = buildCaseUpsert(nil)
	assert.Error(t, err)
}

func TestStoreAgainstDgraph(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Dgraph integration test in short mode")
	}
	addr := os.Getenv("DGRAPH_ADDR")
	if addr == "" {
		t.Skip("DGRAPH_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewStore(ctx, addr, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordOutcome(ctx, sampleState()))
	require.NoError(t, store.RecordOutcome(ctx, sampleState()))

	history, err := store.CustomerHistory(ctx, "U1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Ev1", history[0].ID)

	related, err := store.RelatedCases(ctx, "saml", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, related)
}
