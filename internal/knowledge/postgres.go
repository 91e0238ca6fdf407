package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/quantumflow/supportflow/internal/models"
)

// PostgresStore implements Store on Postgres with the pgvector extension
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewPostgresStore connects, registers pgvector types and migrates the schema
func NewPostgresStore(ctx context.Context, dsn string, dimensions int, embedder Embedder, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: parse postgres DSN: %w", err)
	}

	// The extension may not exist on first connect; migrate creates it.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("knowledge: pgvector types not registered", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge: ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, embedder: embedder, logger: logger, now: time.Now}
	if err := s.migrate(ctx, dimensions); err != nil {
		pool.Close()
		return nil, err
	}

	// Connections opened before the extension existed lack the vector codec.
	pool.Reset()
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			content       TEXT NOT NULL,
			category      TEXT NOT NULL,
			tags          TEXT[] NOT NULL DEFAULT '{}',
			source_url    TEXT NOT NULL DEFAULT '',
			usage_count   INTEGER NOT NULL DEFAULT 0,
			effectiveness DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_updated  TIMESTAMPTZ NOT NULL,
			embedding     vector(%d) NOT NULL
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_entries (category)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("knowledge: migrate: %w", err)
		}
	}
	return nil
}

// Upsert embeds and inserts or replaces an entry
func (s *PostgresStore) Upsert(ctx context.Context, entry *models.KnowledgeEntry) error {
	prepareEntry(entry, s.now())

	vec, err := s.embedder.Embed(ctx, entry.EmbeddingText())
	if err != nil {
		return fmt.Errorf("failed to embed entry %s: %w", entry.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_entries
		 (id, title, content, category, tags, source_url, usage_count, effectiveness, last_updated, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title, content = EXCLUDED.content, category = EXCLUDED.category,
		   tags = EXCLUDED.tags, source_url = EXCLUDED.source_url,
		   usage_count = EXCLUDED.usage_count, effectiveness = EXCLUDED.effectiveness,
		   last_updated = EXCLUDED.last_updated, embedding = EXCLUDED.embedding`,
		entry.ID, entry.Title, entry.Content, string(entry.Category), entry.Tags, entry.SourceURL,
		entry.UsageCount, entry.Effectiveness, entry.LastUpdated, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("knowledge: upsert %s: %w", entry.ID, err)
	}
	return nil
}

// Get retrieves an entry by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.KnowledgeEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, content, category, tags, source_url, usage_count, effectiveness, last_updated
		 FROM knowledge_entries WHERE id = $1`, id)

	var e models.KnowledgeEntry
	var category string
	err := row.Scan(&e.ID, &e.Title, &e.Content, &category, &e.Tags, &e.SourceURL,
		&e.UsageCount, &e.Effectiveness, &e.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: get %s: %w", id, err)
	}
	e.Category = models.Category(category)
	return &e, nil
}

// Search orders entries by cosine distance to the query embedding
func (s *PostgresStore) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredEntry, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := opts.TopK
	if limit <= 0 {
		limit = 5
	}
	category := ""
	if opts.Category != nil {
		category = string(*opts.Category)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, content, category, tags, source_url, usage_count, effectiveness, last_updated,
		        1 - (embedding <=> $1) AS score
		 FROM knowledge_entries
		 WHERE ($2 = '' OR category = $2)
		 ORDER BY embedding <=> $1
		 LIMIT $3`, pgvector.NewVector(queryVec), category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredEntry
	for rows.Next() {
		var e models.KnowledgeEntry
		var cat string
		var score float64
		if err := rows.Scan(&e.ID, &e.Title, &e.Content, &cat, &e.Tags, &e.SourceURL,
			&e.UsageCount, &e.Effectiveness, &e.LastUpdated, &score); err != nil {
			return nil, fmt.Errorf("knowledge: scan search row: %w", err)
		}
		e.Category = models.Category(cat)
		results = append(results, models.ScoredEntry{Entry: &e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: search rows: %w", err)
	}
	return rankResults(results, opts), nil
}

// RecordUsage applies the effectiveness update server-side in one statement
func (s *PostgresStore) RecordUsage(ctx context.Context, id string, helpful bool) error {
	signal := 0.0
	if helpful {
		signal = 1.0
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE knowledge_entries
		 SET usage_count = usage_count + 1,
		     effectiveness = LEAST(1, GREATEST(0, effectiveness * 0.9 + $2 * 0.1)),
		     last_updated = $3
		 WHERE id = $1`, id, signal, s.now())
	if err != nil {
		return fmt.Errorf("knowledge: record usage %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
