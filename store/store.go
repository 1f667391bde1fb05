// Package store keeps the history of submitted programs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("stackvm.store")

// ErrSubmissionNotFound indicates the requested submission doesn't exist
var ErrSubmissionNotFound = errors.New("submission not found")

const idPrefix = "sub"

// Submission is one recorded program run.
type Submission struct {
	ID           string
	Source       string
	ProgramHash  string // Empty when the program did not assemble
	Success      bool
	HasValue     bool
	Result       string // Display text of the result value
	ErrorKind    string // "assembly" or "execution" when Success is false
	ErrorMessage string
	CreatedAt    time.Time
	Elapsed      time.Duration
}

// Store handles SQLite storage for submissions
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS submissions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		program_hash TEXT NOT NULL,
		success INTEGER NOT NULL,
		has_value INTEGER NOT NULL,
		result TEXT NOT NULL,
		error_kind TEXT NOT NULL,
		error_message TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		elapsed_ns INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened history at %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewID returns a fresh submission id.
func NewID() string {
	return idPrefix + "_" + uuid.New().String()
}

// Record saves a submission. A missing ID or CreatedAt is filled in and
// written back to sub.
func (s *Store) Record(ctx context.Context, sub *Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = NewID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions
			(id, source, program_hash, success, has_value, result, error_kind, error_message, created_at, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Source, sub.ProgramHash, sub.Success, sub.HasValue, sub.Result,
		sub.ErrorKind, sub.ErrorMessage, sub.CreatedAt.UnixNano(), int64(sub.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("saving submission: %w", err)
	}
	return nil
}

const selectColumns = `id, source, program_hash, success, has_value, result, error_kind, error_message, created_at, elapsed_ns`

// Recent returns up to limit submissions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM submissions ORDER BY created_at DESC, seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading submissions: %w", err)
	}
	return out, nil
}

// Get retrieves a submission by id.
func (s *Store) Get(ctx context.Context, id string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM submissions WHERE id = ?", id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// Count returns the number of recorded submissions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting submissions: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (Submission, error) {
	var (
		sub       Submission
		createdAt int64
		elapsed   int64
	)
	err := row.Scan(&sub.ID, &sub.Source, &sub.ProgramHash, &sub.Success, &sub.HasValue,
		&sub.Result, &sub.ErrorKind, &sub.ErrorMessage, &createdAt, &elapsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, err
		}
		return Submission{}, fmt.Errorf("scanning submission: %w", err)
	}
	sub.CreatedAt = time.Unix(0, createdAt)
	sub.Elapsed = time.Duration(elapsed)
	return sub, nil
}
