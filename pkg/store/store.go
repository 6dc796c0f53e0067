// Package store persists routing decisions and reasoning traces to
// sqlite. The store is an optional sink: the core runs fully in-memory
// when it is absent, and nothing on the routing path waits on it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/tier"
)

// TraceRecord is the persisted form of one reasoning run.
type TraceRecord struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	State          string    `json:"state"`
	Confidence     float64   `json:"confidence"`
	RequiresReview bool      `json:"requires_review"`
	CreatedAt      time.Time `json:"created_at"`
	Payload        []byte    `json:"payload,omitempty"`
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// WAL mode for better concurrency between writers and report readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		score REAL NOT NULL,
		selected_tier TEXT NOT NULL,
		rule TEXT NOT NULL,
		fallback_used INTEGER NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id, timestamp);

	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		state TEXT NOT NULL,
		confidence REAL NOT NULL,
		requires_review INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_traces_tenant ON traces(tenant_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveDecision persists one routing decision.
func (s *Store) SaveDecision(d router.Decision) error {
	_, err := s.db.Exec(`
		INSERT INTO decisions (timestamp, tenant_id, task_type, score, selected_tier, rule,
			fallback_used, input_tokens, output_tokens, total_tokens, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UTC().Format(time.RFC3339Nano),
		d.TenantID,
		d.TaskType,
		d.Score,
		d.SelectedTier.String(),
		string(d.Rule),
		boolToInt(d.FallbackUsed),
		d.InputTokens,
		d.OutputTokens,
		d.TotalTokens,
		d.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("store: save decision: %w", err)
	}
	return nil
}

// SaveTrace persists one reasoning trace record.
func (s *Store) SaveTrace(rec TraceRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO traces (id, tenant_id, state, confidence, requires_review, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TenantID,
		rec.State,
		rec.Confidence,
		boolToInt(rec.RequiresReview),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(rec.Payload),
	)
	if err != nil {
		return fmt.Errorf("store: save trace: %w", err)
	}
	return nil
}

// Decisions returns a tenant's decisions recorded at or after since.
func (s *Store) Decisions(tenantID string, since time.Time) ([]router.Decision, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, tenant_id, task_type, score, selected_tier, rule,
			fallback_used, input_tokens, output_tokens, total_tokens, latency_ms
		FROM decisions
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp`,
		tenantID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: query decisions: %w", err)
	}
	defer rows.Close()

	var out []router.Decision
	for rows.Next() {
		var d router.Decision
		var ts, tierName, rule string
		var fallbackUsed int
		var latencyMs int64
		if err := rows.Scan(&ts, &d.TenantID, &d.TaskType, &d.Score, &tierName, &rule,
			&fallbackUsed, &d.InputTokens, &d.OutputTokens, &d.TotalTokens, &latencyMs); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		d.SelectedTier, _ = tier.Parse(tierName)
		d.Rule = router.Rule(rule)
		d.FallbackUsed = fallbackUsed != 0
		d.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// Trace loads one trace record by id.
func (s *Store) Trace(id string) (*TraceRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, state, confidence, requires_review, created_at, payload
		FROM traces WHERE id = ?`, id)

	var rec TraceRecord
	var requiresReview int
	var createdAt, payload string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.State, &rec.Confidence,
		&requiresReview, &createdAt, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: trace %s not found", id)
		}
		return nil, fmt.Errorf("store: load trace: %w", err)
	}
	rec.RequiresReview = requiresReview != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.Payload = []byte(payload)
	return &rec, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarshalTracePayload serializes an arbitrary trace body for storage.
func MarshalTracePayload(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
