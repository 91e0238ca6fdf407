package knowledge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the shared contract against a live backend
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(ctx, e))
	}

	results, err := s.Search(ctx, "SSO login fails with SAML error", SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "kb-sso", results[0].Entry.ID)

	require.NoError(t, s.RecordUsage(ctx, "kb-sso", true))
	got, err := s.Get(ctx, "kb-sso")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.UsageCount, 1)

	assert.ErrorIs(t, s.RecordUsage(ctx, "kb-does-not-exist", true), ErrNotFound)
}

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewRedisStore(ctx, RedisConfig{Addr: addr, IndexName: "knowledge:test:idx", Dimensions: 256}, NewSimpleEmbedding(256), nil)
	if err != nil {
		t.Skipf("Skipping test - Redis Stack not available: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestQdrantStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("QDRANT_URL")
	if url == "" {
		t.Skip("QDRANT_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewQdrantStore(ctx, QdrantConfig{URL: url, Collection: "knowledge_test", Dimensions: 256}, NewSimpleEmbedding(256), nil)
	if err != nil {
		t.Skipf("Skipping test - Qdrant not available: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, dsn, 256, NewSimpleEmbedding(256), nil)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}
