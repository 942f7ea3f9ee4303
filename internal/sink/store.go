package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	jsonx "claimflow/internal/shared/json"
)

// ErrRecordNotFound is returned by Get for an unknown claim id.
var ErrRecordNotFound = errors.New("claim record not found")

// Record is one persisted claim.
type Record struct {
	ClaimID   string            `json:"claim_id"`
	RunID     string            `json:"run_id"`
	Decision  string            `json:"decision"`
	Reasons   string            `json:"reasons"`
	ClaimData map[string]any    `json:"claim_data"`
	Reports   map[string]string `json:"reports,omitempty"`
	StoredAt  time.Time         `json:"stored_at"`
}

// Store persists claim records in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens or creates the database at path. ":memory:" is accepted.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS claims (
		claim_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		decision TEXT,
		reasons TEXT,
		claim_data TEXT,
		reports TEXT,
		stored_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_claims_run_id ON claims(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts record keyed by ClaimID.
func (s *Store) Save(ctx context.Context, record Record) error {
	if record.ClaimID == "" {
		return errors.New("claim id required")
	}
	if record.StoredAt.IsZero() {
		record.StoredAt = s.now().UTC()
	}
	claimData, err := jsonx.Marshal(record.ClaimData)
	if err != nil {
		return fmt.Errorf("encode claim data: %w", err)
	}
	reports, err := jsonx.Marshal(record.Reports)
	if err != nil {
		return fmt.Errorf("encode reports: %w", err)
	}

	query := `
	INSERT INTO claims (claim_id, run_id, decision, reasons, claim_data, reports, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(claim_id) DO UPDATE SET
		run_id=excluded.run_id,
		decision=excluded.decision,
		reasons=excluded.reasons,
		claim_data=excluded.claim_data,
		reports=excluded.reports,
		stored_at=excluded.stored_at
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ClaimID,
		record.RunID,
		record.Decision,
		record.Reasons,
		string(claimData),
		string(reports),
		record.StoredAt,
	)
	return err
}

// Get loads the record stored for claimID.
func (s *Store) Get(ctx context.Context, claimID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT claim_id, run_id, decision, reasons, claim_data, reports, stored_at
	FROM claims WHERE claim_id = ?`, claimID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return record, err
}

// List returns the most recently stored records first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT claim_id, run_id, decision, reasons, claim_data, reports, stored_at
	FROM claims ORDER BY stored_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		record    Record
		decision  sql.NullString
		reasons   sql.NullString
		claimData sql.NullString
		reports   sql.NullString
	)
	if err := row.Scan(&record.ClaimID, &record.RunID, &decision, &reasons, &claimData, &reports, &record.StoredAt); err != nil {
		return Record{}, err
	}
	record.Decision = decision.String
	record.Reasons = reasons.String
	if claimData.Valid && claimData.String != "" {
		if err := jsonx.Unmarshal([]byte(claimData.String), &record.ClaimData); err != nil {
			return Record{}, fmt.Errorf("decode claim data: %w", err)
		}
	}
	if reports.Valid && reports.String != "" {
		if err := jsonx.Unmarshal([]byte(reports.String), &record.Reports); err != nil {
			return Record{}, fmt.Errorf("decode reports: %w", err)
		}
	}
	return record, nil
}
