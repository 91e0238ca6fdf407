package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/quantumflow/supportflow/internal/models"
)

// pointNamespace derives stable Qdrant point ids from entry ids that are not UUIDs
var pointNamespace = uuid.MustParse("6f1c8a52-3d0e-4b8e-9a57-5c2f3e9d1b70")

// QdrantConfig configures the Qdrant-backed store
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
}

// QdrantStore implements Store on a Qdrant collection. The full entry is
// kept as JSON in the "entry" payload field.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	embedder   Embedder
	logger     *slog.Logger
	now        func() time.Time
}

// parseQdrantURL extracts host, gRPC port and TLS flag from a Qdrant URL.
// The REST port 6333 is mapped to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("knowledge: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("knowledge: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// NewQdrantStore connects to Qdrant and ensures the collection exists
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: connect to qdrant at %s:%d: %w", host, port, err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dims:       uint64(cfg.Dimensions),
		embedder:   embedder,
		logger:     logger,
		now:        time.Now,
	}

	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("knowledge: check collection exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("knowledge: create collection %q: %w", s.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "category",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("knowledge: create category index: %w", err)
	}

	s.logger.Info("qdrant: created collection", "collection", s.collection, "dims", s.dims)
	return nil
}

// Upsert embeds and writes one point
func (s *QdrantStore) Upsert(ctx context.Context, entry *models.KnowledgeEntry) error {
	prepareEntry(entry, s.now())

	vec, err := s.embedder.Embed(ctx, entry.EmbeddingText())
	if err != nil {
		return fmt.Errorf("failed to embed entry %s: %w", entry.ID, err)
	}

	payload, err := entryPayload(entry)
	if err != nil {
		return err
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      pointID(entry.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("knowledge: qdrant upsert %s: %w", entry.ID, err)
	}
	return nil
}

// Get retrieves an entry by ID
func (s *QdrantStore) Get(ctx context.Context, id string) (*models.KnowledgeEntry, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: qdrant get %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodePayload(points[0].GetPayload())
}

// Search runs a dense vector query with an optional category filter
func (s *QdrantStore) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredEntry, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := uint64(opts.TopK)
	if limit == 0 {
		limit = 5
	}

	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(queryVec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(float32(opts.MinScore)),
	}
	if opts.Category != nil {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("category", string(*opts.Category))},
		}
	}

	scored, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: qdrant query: %w", err)
	}

	results := make([]models.ScoredEntry, 0, len(scored))
	for _, sp := range scored {
		entry, err := decodePayload(sp.GetPayload())
		if err != nil {
			s.logger.Warn("qdrant: skipping point with bad payload", "point", sp.GetId().GetUuid(), "error", err)
			continue
		}
		results = append(results, models.ScoredEntry{Entry: entry, Score: float64(sp.GetScore())})
	}
	return rankResults(results, opts), nil
}

// RecordUsage rewrites the payload with updated usage statistics. The
// read-modify-write is not atomic; concurrent updates to one entry may
// drop an increment.
func (s *QdrantStore) RecordUsage(ctx context.Context, id string, helpful bool) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	entry.ApplyFeedback(helpful, s.now())

	payload, err := entryPayload(entry)
	if err != nil {
		return err
	}

	_, err = s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Payload:        payload,
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("knowledge: qdrant set payload %s: %w", id, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable
func (s *QdrantStore) Healthy(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("knowledge: qdrant unhealthy: %w", err)
	}
	return nil
}

// Close shuts down the Qdrant gRPC connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointID(entryID string) *qdrant.PointId {
	if u, err := uuid.Parse(entryID); err == nil {
		return qdrant.NewID(u.String())
	}
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(entryID)).String())
}

func entryPayload(e *models.KnowledgeEntry) (map[string]*qdrant.Value, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}
	return qdrant.NewValueMap(map[string]any{
		"entry_id": e.ID,
		"category": string(e.Category),
		"entry":    string(data),
	}), nil
}

func decodePayload(payload map[string]*qdrant.Value) (*models.KnowledgeEntry, error) {
	raw, ok := payload["entry"]
	if !ok {
		return nil, fmt.Errorf("payload has no entry field")
	}
	var e models.KnowledgeEntry
	if err := json.Unmarshal([]byte(raw.GetStringValue()), &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry payload: %w", err)
	}
	return &e, nil
}
