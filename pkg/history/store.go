// Package history persists a tamper-evident trail of validation verdicts.
// Each record links to the previous one by hash; hashes are computed over
// the RFC 8785 canonical JSON form of the record so the chain is
// independent of map ordering and encoder quirks.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/vitrine-app/vitrine/pkg/artifact"

	_ "modernc.org/sqlite"
)

// Clock provides record timestamps; injectable for tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Record is one verdict entry in the trail.
type Record struct {
	ID            string    `json:"id"`
	ArtifactID    string    `json:"artifact_id"`
	Timestamp     time.Time `json:"timestamp"`
	IsValid       bool      `json:"is_valid"`
	SecurityCount int       `json:"security_count"`
	ErrorCount    int       `json:"error_count"`
	WarningCount  int       `json:"warning_count"`
	VerdictJSON   string    `json:"verdict"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// Store writes verdict records to SQLite. It satisfies loader.Recorder.
type Store struct {
	db    *sql.DB
	clock Clock

	mu       sync.Mutex
	lastHash string
}

// Open opens (or creates) a verdict store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	return NewStore(db)
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, clock: wallClock{}}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	if err := s.loadLastHash(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock injects a clock after construction.
func (s *Store) SetClock(c Clock) {
	if c != nil {
		s.clock = c
	}
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS verdicts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT UNIQUE NOT NULL,
		artifact_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		is_valid INTEGER NOT NULL,
		security_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		verdict JSON NOT NULL,
		prev_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

func (s *Store) loadLastHash() error {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT hash FROM verdicts ORDER BY seq DESC LIMIT 1`)
	var h string
	switch err := row.Scan(&h); err {
	case nil:
		s.lastHash = h
	case sql.ErrNoRows:
		s.lastHash = ""
	default:
		return fmt.Errorf("history: load chain head: %w", err)
	}
	return nil
}

// Record appends one verdict to the trail, linking it to the previous
// record's hash.
func (s *Store) Record(ctx context.Context, artifactID string, result artifact.ValidationResult) error {
	verdictJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("history: marshal verdict: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:            uuid.NewString(),
		ArtifactID:    artifactID,
		Timestamp:     s.clock.Now().UTC(),
		IsValid:       result.IsValid,
		SecurityCount: len(result.SecurityIssues),
		ErrorCount:    len(result.Errors),
		WarningCount:  len(result.Warnings),
		VerdictJSON:   string(verdictJSON),
		PrevHash:      s.lastHash,
	}
	hash, err := computeHash(&rec)
	if err != nil {
		return err
	}
	rec.Hash = hash

	_, err = s.db.ExecContext(ctx, `INSERT INTO verdicts (
		record_id, artifact_id, timestamp, is_valid,
		security_count, error_count, warning_count,
		verdict, prev_hash, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ArtifactID, rec.Timestamp.Format(time.RFC3339Nano), boolToInt(rec.IsValid),
		rec.SecurityCount, rec.ErrorCount, rec.WarningCount,
		rec.VerdictJSON, rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return fmt.Errorf("history: insert verdict: %w", err)
	}

	s.lastHash = rec.Hash
	return nil
}

// List returns up to limit records for artifactID, newest first. An empty
// artifactID lists across all artifacts.
func (s *Store) List(ctx context.Context, artifactID string, limit int) ([]Record, error) {
	query := `SELECT record_id, artifact_id, timestamp, is_valid,
		security_count, error_count, warning_count, verdict, prev_hash, hash
		FROM verdicts`
	args := []any{}
	if artifactID != "" {
		query += ` WHERE artifact_id = ?`
		args = append(args, artifactID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts string
		var valid int
		if err := rows.Scan(&rec.ID, &rec.ArtifactID, &ts, &valid,
			&rec.SecurityCount, &rec.ErrorCount, &rec.WarningCount,
			&rec.VerdictJSON, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.IsValid = valid != 0
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("history: parse timestamp: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// VerifyChain walks the whole trail in insertion order and checks that each
// record's hash matches its content and its PrevHash matches the preceding
// record.
func (s *Store) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT record_id, artifact_id, timestamp, is_valid,
		security_count, error_count, warning_count, verdict, prev_hash, hash
		FROM verdicts ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("history: verify: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prev := ""
	for rows.Next() {
		var rec Record
		var ts string
		var valid int
		if err := rows.Scan(&rec.ID, &rec.ArtifactID, &ts, &valid,
			&rec.SecurityCount, &rec.ErrorCount, &rec.WarningCount,
			&rec.VerdictJSON, &rec.PrevHash, &rec.Hash); err != nil {
			return fmt.Errorf("history: scan: %w", err)
		}
		rec.IsValid = valid != 0
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("history: parse timestamp: %w", err)
		}

		if rec.PrevHash != prev {
			return fmt.Errorf("history: chain break at %s: prev_hash mismatch", rec.ID)
		}
		want := rec.Hash
		rec.Hash = ""
		got, err := computeHash(&rec)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("history: tampered record %s: hash mismatch", rec.ID)
		}
		prev = want
	}
	return rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// computeHash hashes the canonical JSON form of rec with its Hash field
// zeroed.
func computeHash(rec *Record) (string, error) {
	clone := *rec
	clone.Hash = ""
	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("history: marshal record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("history: canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
