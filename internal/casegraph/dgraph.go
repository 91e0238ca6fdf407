// Package casegraph records support cases in Dgraph, linking each case to
// its customer, topics and the knowledge entries that answered it.
package casegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quantumflow/supportflow/internal/models"
)

const schema = `
	type Case {
		case.id
		case.channel
		case.category
		case.urgency
		case.status
		case.escalated
		case.reason
		case.resolution
		case.confidence
		case.created
		case.customer
		case.topics
		case.answered_by
	}

	type Customer {
		customer.id
	}

	type Topic {
		topic.name
	}

	type Article {
		article.id
	}

	case.id: string @index(exact) @upsert .
	case.channel: string @index(exact) .
	case.category: string @index(exact) .
	case.urgency: string @index(exact) .
	case.status: string .
	case.escalated: bool @index(bool) .
	case.reason: string .
	case.resolution: string .
	case.confidence: float .
	case.created: datetime @index(hour) .
	case.customer: uid @reverse .
	case.topics: [uid] @reverse .
	case.answered_by: [uid] @reverse .

	customer.id: string @index(exact) @upsert .
	topic.name: string @index(exact) @upsert .
	article.id: string @index(exact) @upsert .
`

// Store writes workflow outcomes into the case graph
type Store struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
	logger *slog.Logger
}

// NewStore connects to a Dgraph alpha and installs the schema
func NewStore(ctx context.Context, addr string, logger *slog.Logger) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
		logger: logger,
	}

	if err := s.client.Alter(ctx, &api.Operation{Schema: schema}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// RecordOutcome upserts the case and its edges in one request
func (s *Store) RecordOutcome(ctx context.Context, state *models.WorkflowState) error {
	req, err := buildCaseUpsert(state)
	if err != nil {
		return err
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Do(ctx, req); err != nil {
		return fmt.Errorf("failed to record case %s: %w", state.Message.ID, err)
	}
	s.logger.Debug("case recorded", "message_id", state.Message.ID)
	return nil
}

// buildCaseUpsert turns a workflow state into a single upsert block. Every
// node is matched by its external id so replays update in place.
func buildCaseUpsert(state *models.WorkflowState) (*api.Request, error) {
	if state == nil || state.Message == nil || state.Message.ID == "" {
		return nil, fmt.Errorf("workflow state has no message id")
	}
	msg := state.Message

	vars := map[string]string{
		"$case":     msg.ID,
		"$customer": msg.UserID,
	}
	params := "$case: string, $customer: string"
	blocks := "\tcase as var(func: eq(case.id, $case))\n\tcustomer as var(func: eq(customer.id, $customer))\n"

	topics := stringsFromMetadata(state, "key_topics")
	topicRefs := make([]map[string]interface{}, 0, len(topics))
	for i, name := range topics {
		v := "t" + strconv.Itoa(i)
		vars["$"+v] = name
		params += ", $" + v + ": string"
		blocks += fmt.Sprintf("\t%s as var(func: eq(topic.name, $%s))\n", v, v)
		topicRefs = append(topicRefs, map[string]interface{}{
			"uid":         "uid(" + v + ")",
			"topic.name":  name,
			"dgraph.type": "Topic",
		})
	}

	articles := stringsFromMetadata(state, "sources_cited")
	articleRefs := make([]map[string]interface{}, 0, len(articles))
	for i, id := range articles {
		v := "a" + strconv.Itoa(i)
		vars["$"+v] = id
		params += ", $" + v + ": string"
		blocks += fmt.Sprintf("\t%s as var(func: eq(article.id, $%s))\n", v, v)
		articleRefs = append(articleRefs, map[string]interface{}{
			"uid":         "uid(" + v + ")",
			"article.id":  id,
			"dgraph.type": "Article",
		})
	}

	node := map[string]interface{}{
		"uid":             "uid(case)",
		"dgraph.type":     "Case",
		"case.id":         msg.ID,
		"case.channel":    msg.ChannelID,
		"case.category":   string(msg.Category),
		"case.urgency":    string(msg.Urgency),
		"case.status":     string(msg.Status),
		"case.escalated":  state.Escalated,
		"case.reason":     state.EscalationReason,
		"case.resolution": state.FinalResponse,
		"case.created":    state.ProcessingStarted.UTC().Format(time.RFC3339),
		"case.customer": map[string]interface{}{
			"uid":         "uid(customer)",
			"customer.id": msg.UserID,
			"dgraph.type": "Customer",
		},
	}
	if last := state.LastResponse(); last != nil {
		node["case.confidence"] = last.Confidence
	}
	if len(topicRefs) > 0 {
		node["case.topics"] = topicRefs
	}
	if len(articleRefs) > 0 {
		node["case.answered_by"] = articleRefs
	}

	setJSON, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal case: %w", err)
	}

	return &api.Request{
		Query:     fmt.Sprintf("query q(%s) {\n%s}", params, blocks),
		Vars:      vars,
		Mutations: []*api.Mutation{{SetJson: setJSON}},
		CommitNow: true,
	}, nil
}

// stringsFromMetadata collects a string list recorded by any stage
func stringsFromMetadata(state *models.WorkflowState, key string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range state.AgentResponses {
		values, ok := r.Metadata[key].([]string)
		if !ok {
			continue
		}
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// CaseSummary is a past case as returned by graph queries
type CaseSummary struct {
	ID         string    `json:"case.id"`
	Category   string    `json:"case.category"`
	Urgency    string    `json:"case.urgency"`
	Escalated  bool      `json:"case.escalated"`
	Resolution string    `json:"case.resolution"`
	Created    time.Time `json:"case.created"`
}

// CustomerHistory returns a customer's most recent cases
func (s *Store) CustomerHistory(ctx context.Context, userID string, limit int) ([]CaseSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `query q($customer: string, $first: int) {
		customer(func: eq(customer.id, $customer)) {
			cases: ~case.customer(orderdesc: case.created, first: $first) {
				case.id
				case.category
				case.urgency
				case.escalated
				case.resolution
				case.created
			}
		}
	}`

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{
		"$customer": userID,
		"$first":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("customer history query failed: %w", err)
	}

	var result struct {
		Customer []struct {
			Cases []CaseSummary `json:"cases"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Customer) == 0 {
		return nil, nil
	}
	return result.Customer[0].Cases, nil
}

// RelatedCases returns recent cases that share a topic
func (s *Store) RelatedCases(ctx context.Context, topic string, limit int) ([]CaseSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `query q($topic: string, $first: int) {
		topic(func: eq(topic.name, $topic)) {
			cases: ~case.topics(orderdesc: case.created, first: $first) {
				case.id
				case.category
				case.urgency
				case.escalated
				case.resolution
				case.created
			}
		}
	}`

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{
		"$topic": topic,
		"$first": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("related cases query failed: %w", err)
	}

	var result struct {
		Topic []struct {
			Cases []CaseSummary `json:"cases"`
		} `json:"topic"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Topic) == 0 {
		return nil, nil
	}
	return result.Topic[0].Cases, nil
}

// Close closes the Dgraph connection
func (s *Store) Close() error {
	return s.conn.Close()
}
