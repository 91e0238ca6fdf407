package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/quantumflow/supportflow/internal/models"
)

const badgerEntryPrefix = "knowledge:entry:"

// BadgerConfig configures the embedded store
type BadgerConfig struct {
	Path     string
	InMemory bool
}

// BadgerStore keeps entries and their embeddings in BadgerDB and scores
// them by brute-force cosine similarity.
type BadgerStore struct {
	db       *badger.DB
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

type badgerRecord struct {
	Entry     *models.KnowledgeEntry `json:"entry"`
	Embedding []float32              `json:"embedding"`
}

// NewBadgerStore opens (or creates) a BadgerDB-backed knowledge store
func NewBadgerStore(cfg BadgerConfig, embedder Embedder, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(expandPath(cfg.Path))
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:       db,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Upsert embeds and stores an entry, assigning an id if it has none
func (s *BadgerStore) Upsert(ctx context.Context, entry *models.KnowledgeEntry) error {
	prepareEntry(entry, s.now())

	vec, err := s.embedder.Embed(ctx, entry.EmbeddingText())
	if err != nil {
		return fmt.Errorf("failed to embed entry %s: %w", entry.ID, err)
	}

	data, err := json.Marshal(badgerRecord{Entry: entry, Embedding: vec})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(entry.ID), data)
	})
}

// Get retrieves an entry by ID
func (s *BadgerStore) Get(ctx context.Context, id string) (*models.KnowledgeEntry, error) {
	var rec badgerRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec.Entry, nil
}

// Search embeds the query and scores every stored entry against it
func (s *BadgerStore) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredEntry, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var results []models.ScoredEntry
	err = s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(badgerEntryPrefix)

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec badgerRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					s.logger.Warn("skipping malformed knowledge entry", "key", string(it.Item().Key()), "error", err)
					return nil
				}
				if rec.Entry == nil || !matchesCategory(rec.Entry, opts.Category) {
					return nil
				}
				results = append(results, models.ScoredEntry{
					Entry: rec.Entry,
					Score: cosineSimilarity(queryVec, rec.Embedding),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge entries: %w", err)
	}

	return rankResults(results, opts), nil
}

// usageAttempts bounds retries of a conflicting usage update
const usageAttempts = 10

// RecordUsage increments usage and updates effectiveness in one transaction.
// Concurrent updates of the same entry conflict; the loser retries.
func (s *BadgerStore) RecordUsage(ctx context.Context, id string, helpful bool) error {
	key := badgerKey(id)
	update := func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		var rec badgerRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		rec.Entry.ApplyFeedback(helpful, s.now())

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	}

	var err error
	for attempt := 0; attempt < usageAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("failed to record usage for %s: %w", id, ctxErr)
		}
		err = s.db.Update(update)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return fmt.Errorf("failed to record usage for %s: %w", id, err)
	}
}

// Count returns the number of stored entries
func (s *BadgerStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEntryPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the BadgerDB instance
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerKey(id string) []byte {
	return []byte(badgerEntryPrefix + id)
}

// prepareEntry fills the fields every backend expects to be set
func prepareEntry(entry *models.KnowledgeEntry, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.LastUpdated.IsZero() {
		entry.LastUpdated = now
	}
	if entry.Category == "" {
		entry.Category = models.CategoryGeneral
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	entry.Effectiveness = models.ClampConfidence(entry.Effectiveness)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
