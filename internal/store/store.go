package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// QueryLog is one answered question persisted for auditing.
type QueryLog struct {
	ID        string    `json:"id"`
	Documents []string  `json:"documents"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Failed    bool      `json:"failed"`
	Attempts  int       `json:"attempts"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists query logs in Postgres. Optional: when no database is
// configured the server simply runs without an audit trail.
type Store struct {
	db *sql.DB
}

func NewWithDSN(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveQueryLog inserts one log row, assigning an ID when the caller left it
// empty.
func (s *Store) SaveQueryLog(ctx context.Context, entry *QueryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_logs (id, documents, question, answer, failed, attempts, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, pq.Array(entry.Documents), entry.Question, entry.Answer,
		entry.Failed, entry.Attempts, entry.ElapsedMS, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting query log: %w", err)
	}
	return nil
}

// ListQueryLogs returns the most recent rows, newest first.
func (s *Store) ListQueryLogs(ctx context.Context, limit int) ([]QueryLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, documents, question, answer, failed, attempts, elapsed_ms, created_at
		FROM query_logs
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing query logs: %w", err)
	}
	defer rows.Close()

	var out []QueryLog
	for rows.Next() {
		var entry QueryLog
		if err := rows.Scan(&entry.ID, pq.Array(&entry.Documents), &entry.Question, &entry.Answer,
			&entry.Failed, &entry.Attempts, &entry.ElapsedMS, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning query log: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
