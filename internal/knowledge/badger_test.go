package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerUpsertAndGet(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	entry := &models.KnowledgeEntry{Title: "Reset password", Content: "Use the forgot password link."}
	require.NoError(t, s.Upsert(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.CategoryGeneral, entry.Category)
	assert.False(t, entry.LastUpdated.IsZero())

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Title, got.Title)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerSearchRanksRelevantEntryFirst(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(ctx, e))
	}

	results, err := s.Search(ctx, "SSO login fails with SAML error", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "kb-sso", results[0].Entry.ID)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestBadgerSearchCategoryFilter(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(ctx, e))
	}

	billing := models.CategoryBilling
	results, err := s.Search(ctx, "SSO login fails", SearchOptions{TopK: 5, Category: &billing})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, models.CategoryBilling, r.Entry.Category)
	}
}

func TestBadgerSearchMinScoreAndTopK(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(ctx, e))
	}

	results, err := s.Search(ctx, "SSO SAML login", SearchOptions{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = s.Search(ctx, "completely unrelated zebra xylophone", SearchOptions{TopK: 5, MinScore: 0.4})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBadgerRecordUsage(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(ctx, e))
	}

	require.NoError(t, s.RecordUsage(ctx, "kb-sso", true))
	got, err := s.Get(ctx, "kb-sso")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	assert.InDelta(t, 0.55, got.Effectiveness, 1e-9)
	assert.True(t, got.LastUpdated.Equal(fixed))

	require.NoError(t, s.RecordUsage(ctx, "kb-sso", false))
	got, err = s.Get(ctx, "kb-sso")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.InDelta(t, 0.495, got.Effectiveness, 1e-9)

	err = s.RecordUsage(ctx, "missing", true)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerRecordUsageConcurrent(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(ctx, e))
	}

	const updates = 8
	var wg sync.WaitGroup
	errs := make(chan error, updates)
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RecordUsage(ctx, "kb-sso", true)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	got, err := s.Get(ctx, "kb-sso")
	require.NoError(t, err)
	assert.Equal(t, updates, got.UsageCount)
}

func TestBadgerCount(t *testing.T) {
	s := newMemStore(t)
	for _, e := range sampleEntries() {
		require.NoError(t, s.Upsert(context.Background(), e))
	}
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
