package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantumflow/supportflow/internal/models"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS api_calls (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         DATETIME NOT NULL,
	service    TEXT NOT NULL,
	method     TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	channel    TEXT,
	status     INTEGER,
	latency_ms INTEGER,
	ok         BOOLEAN NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS idx_api_calls_at ON api_calls(at);
CREATE INDEX IF NOT EXISTS idx_api_calls_service ON api_calls(service, at);
CREATE INDEX IF NOT EXISTS idx_api_calls_channel ON api_calls(channel);

CREATE TABLE IF NOT EXISTS workflow_runs (
	message_id        TEXT PRIMARY KEY,
	channel_id        TEXT,
	user_id           TEXT,
	category          TEXT,
	urgency           TEXT,
	status            TEXT,
	escalated         BOOLEAN,
	escalation_reason TEXT,
	final_response    TEXT,
	agents_used       INTEGER,
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME,
	duration_ms       INTEGER,
	state             TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON workflow_runs(started_at);
`

// SQLiteAuditLogger keeps the outbound API call log and the workflow run
// log in one SQLite file.
type SQLiteAuditLogger struct {
	db *sql.DB
}

// NewSQLiteAuditLogger opens (or creates) the audit database at dbPath.
// "~/" is expanded and ":memory:" opens a private in-memory database.
func NewSQLiteAuditLogger(dbPath string) (*SQLiteAuditLogger, error) {
	dbPath = expandHome(dbPath)
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &SQLiteAuditLogger{db: db}, nil
}

// Log implements AuditLogger
func (a *SQLiteAuditLogger) Log(ctx context.Context, call *APICall) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO api_calls (at, service, method, endpoint, channel, status, latency_ms, ok, err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.At.UTC(), string(call.Service), call.Method, call.Endpoint,
		nullable(call.Channel), call.Status, call.Latency.Milliseconds(), call.OK(), nullable(call.Err),
	)
	return err
}

// Calls returns audited API calls matching f, newest first
func (a *SQLiteAuditLogger) Calls(ctx context.Context, f CallFilter) ([]*APICall, error) {
	var where []string
	var args []interface{}
	if f.Service != "" {
		where = append(where, "service = ?")
		args = append(args, string(f.Service))
	}
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, f.Channel)
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where = append(where, "at <= ?")
		args = append(args, f.Until.UTC())
	}
	if f.FailedOnly {
		where = append(where, "ok = 0")
	}

	query := "SELECT id, at, service, method, endpoint, channel, status, latency_ms, err FROM api_calls"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*APICall
	for rows.Next() {
		var c APICall
		var channel, errText sql.NullString
		var latencyMs int64
		if err := rows.Scan(&c.ID, &c.At, &c.Service, &c.Method, &c.Endpoint,
			&channel, &c.Status, &latencyMs, &errText); err != nil {
			return nil, err
		}
		c.Channel = channel.String
		c.Err = errText.String
		c.Latency = time.Duration(latencyMs) * time.Millisecond
		calls = append(calls, &c)
	}
	return calls, rows.Err()
}

// ServiceStats summarizes a service's audited calls
type ServiceStats struct {
	Calls      int
	Failures   int
	AvgLatency time.Duration
}

// FailureRate is Failures/Calls, or 0 without calls
func (s ServiceStats) FailureRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Calls)
}

// Stats summarizes calls to service since the given time
func (a *SQLiteAuditLogger) Stats(ctx context.Context, service ServiceType, since time.Time) (ServiceStats, error) {
	var stats ServiceStats
	var avgMs sql.NullFloat64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0), AVG(latency_ms)
		FROM api_calls
		WHERE service = ? AND at >= ?`,
		string(service), since.UTC(),
	).Scan(&stats.Calls, &stats.Failures, &avgMs)
	if err != nil {
		return ServiceStats{}, err
	}
	if avgMs.Valid {
		stats.AvgLatency = time.Duration(avgMs.Float64 * float64(time.Millisecond))
	}
	return stats, nil
}

// RecordOutcome stores a completed workflow run. Re-recording a message
// replaces the earlier row.
func (a *SQLiteAuditLogger) RecordOutcome(ctx context.Context, state *models.WorkflowState) error {
	if state == nil || state.Message == nil {
		return fmt.Errorf("workflow state has no message")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	msg := state.Message
	var completed *time.Time
	var durationMs int64
	if state.ProcessingCompleted != nil {
		c := state.ProcessingCompleted.UTC()
		completed = &c
		durationMs = state.ProcessingCompleted.Sub(state.ProcessingStarted).Milliseconds()
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflow_runs (
			message_id, channel_id, user_id, category, urgency, status,
			escalated, escalation_reason, final_response, agents_used,
			started_at, completed_at, duration_ms, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.UserID,
		string(msg.Category), string(msg.Urgency), string(msg.Status),
		state.Escalated, state.EscalationReason, state.FinalResponse, state.AgentsUsed(),
		state.ProcessingStarted.UTC(), completed, durationMs, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to record workflow run %s: %w", msg.ID, err)
	}
	return nil
}

// WorkflowRun is one row of the run log
type WorkflowRun struct {
	MessageID        string
	Category         models.Category
	Urgency          models.Urgency
	Status           models.ResolutionStatus
	Escalated        bool
	EscalationReason string
	FinalResponse    string
	AgentsUsed       int
	StartedAt        time.Time
	Duration         time.Duration
}

// RecentRuns returns the latest workflow runs, newest first
func (a *SQLiteAuditLogger) RecentRuns(ctx context.Context, limit int) ([]*WorkflowRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT message_id, category, urgency, status, escalated, escalation_reason,
		       final_response, agents_used, started_at, duration_ms
		FROM workflow_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		var run WorkflowRun
		var reason sql.NullString
		var durationMs int64
		if err := rows.Scan(
			&run.MessageID, &run.Category, &run.Urgency, &run.Status, &run.Escalated, &reason,
			&run.FinalResponse, &run.AgentsUsed, &run.StartedAt, &durationMs,
		); err != nil {
			return nil, err
		}
		run.EscalationReason = reason.String
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Close closes the database
func (a *SQLiteAuditLogger) Close() error {
	return a.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// expandHome expands a leading "~/" to the user's home directory
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
