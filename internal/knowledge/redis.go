package knowledge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/quantumflow/supportflow/internal/models"
)

const redisEntryPrefix = "knowledge:entry:"

// RedisConfig configures the RediSearch-backed store
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	IndexName  string
	Dimensions int
}

// RedisStore implements Store using RediSearch vector indexing over hashes
type RedisStore struct {
	client    *redis.Client
	indexName string
	embedder  Embedder
	logger    *slog.Logger
	now       func() time.Time
}

// NewRedisStore connects to Redis and ensures the vector index exists
func NewRedisStore(ctx context.Context, cfg RedisConfig, embedder Embedder, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IndexName == "" {
		cfg.IndexName = "knowledge:idx"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{
		client:    client,
		indexName: cfg.IndexName,
		embedder:  embedder,
		logger:    logger,
		now:       time.Now,
	}

	if err := store.createIndex(pingCtx, cfg.Dimensions); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	return store, nil
}

// createIndex creates the RediSearch index unless it already exists
func (s *RedisStore) createIndex(ctx context.Context, dimensions int) error {
	if _, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result(); err == nil {
		return nil
	}

	args := []interface{}{
		"FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", redisEntryPrefix,
		"SCHEMA",
		"title", "TEXT",
		"content", "TEXT",
		"category", "TAG",
		"tags", "TAG", "SEPARATOR", ",",
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", dimensions,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
	}

	return s.client.Do(ctx, args...).Err()
}

// Upsert embeds and writes an entry hash
func (s *RedisStore) Upsert(ctx context.Context, entry *models.KnowledgeEntry) error {
	prepareEntry(entry, s.now())

	vec, err := s.embedder.Embed(ctx, entry.EmbeddingText())
	if err != nil {
		return fmt.Errorf("failed to embed entry %s: %w", entry.ID, err)
	}

	fields := entryToHash(entry)
	fields["embedding"] = serializeEmbedding(vec)

	if err := s.client.HSet(ctx, redisEntryPrefix+entry.ID, fields).Err(); err != nil {
		return fmt.Errorf("failed to store entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get retrieves an entry by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*models.KnowledgeEntry, error) {
	fields, err := s.client.HGetAll(ctx, redisEntryPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return hashToEntry(id, fields), nil
}

// Search runs a KNN query, optionally restricted to one category tag
func (s *RedisStore) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredEntry, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := opts.TopK
	if k <= 0 {
		k = 5
	}

	filter := "*"
	if opts.Category != nil {
		filter = fmt.Sprintf("@category:{%s}", *opts.Category)
	}

	args := []interface{}{
		"FT.SEARCH", s.indexName,
		fmt.Sprintf("(%s)=>[KNN %d @embedding $query_vec AS vector_distance]", filter, k),
		"PARAMS", "2", "query_vec", serializeEmbedding(queryVec),
		"SORTBY", "vector_distance",
		"DIALECT", "2",
		"LIMIT", "0", k,
	}

	result, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	return rankResults(s.parseSearchResults(result), opts), nil
}

// parseSearchResults parses FT.SEARCH output:
// [total, id1, [field1, value1, ...], id2, [...], ...]
func (s *RedisStore) parseSearchResults(result interface{}) []models.ScoredEntry {
	results, ok := result.([]interface{})
	if !ok || len(results) < 3 {
		return nil
	}

	var scored []models.ScoredEntry
	for i := 1; i+1 < len(results); i += 2 {
		id := strings.TrimPrefix(fmt.Sprint(results[i]), redisEntryPrefix)
		raw, ok := results[i+1].([]interface{})
		if !ok {
			continue
		}

		fields := make(map[string]string, len(raw)/2)
		for j := 0; j+1 < len(raw); j += 2 {
			fields[fmt.Sprint(raw[j])] = fmt.Sprint(raw[j+1])
		}

		distance, err := strconv.ParseFloat(fields["vector_distance"], 64)
		if err != nil {
			s.logger.Warn("redis search result without distance", "id", id)
			continue
		}

		scored = append(scored, models.ScoredEntry{
			Entry: hashToEntry(id, fields),
			Score: 1 - distance,
		})
	}
	return scored
}

// RecordUsage updates usage and effectiveness under WATCH so concurrent
// updates to the same entry do not lose writes.
func (s *RedisStore) RecordUsage(ctx context.Context, id string, helpful bool) error {
	key := redisEntryPrefix + id

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, "effectiveness").Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		current, _ := strconv.ParseFloat(raw, 64)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "usage_count", 1)
			pipe.HSet(ctx, key,
				"effectiveness", models.NextEffectiveness(current, helpful),
				"last_updated", s.now().Unix(),
			)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to record usage for %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("failed to record usage for %s: too much contention", id)
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func entryToHash(e *models.KnowledgeEntry) map[string]interface{} {
	return map[string]interface{}{
		"title":         e.Title,
		"content":       e.Content,
		"category":      string(e.Category),
		"tags":          strings.Join(e.Tags, ","),
		"source_url":    e.SourceURL,
		"usage_count":   e.UsageCount,
		"effectiveness": e.Effectiveness,
		"last_updated":  e.LastUpdated.Unix(),
	}
}

func hashToEntry(id string, fields map[string]string) *models.KnowledgeEntry {
	e := &models.KnowledgeEntry{
		ID:        id,
		Title:     fields["title"],
		Content:   fields["content"],
		Category:  models.Category(fields["category"]),
		SourceURL: fields["source_url"],
		Tags:      []string{},
	}
	if t := fields["tags"]; t != "" {
		e.Tags = strings.Split(t, ",")
	}
	e.UsageCount, _ = strconv.Atoi(fields["usage_count"])
	e.Effectiveness, _ = strconv.ParseFloat(fields["effectiveness"], 64)
	if ts, err := strconv.ParseInt(fields["last_updated"], 10, 64); err == nil {
		e.LastUpdated = time.Unix(ts, 0)
	}
	return e
}

// serializeEmbedding encodes a vector as little-endian float32 bytes,
// the layout RediSearch expects for FLOAT32 vector fields.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}
