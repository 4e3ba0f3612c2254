package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Attempt is one recorded build attempt, success or failure.
type Attempt struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Task       string    `json:"task"`
	Round      int       `json:"round"`
	Nonce      string    `json:"nonce"`
	Status     string    `json:"status"`
	RepoURL    string    `json:"repo_url,omitempty"`
	CommitSHA  string    `json:"commit_sha,omitempty"`
	PagesURL   string    `json:"pages_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// PostgresStore persists build attempts to Postgres. The store is optional;
// when no DSN is configured the service runs without history.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS build_attempts (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    task TEXT NOT NULL,
    round INT NOT NULL,
    nonce TEXT NOT NULL,
    status TEXT NOT NULL,
    repo_url TEXT,
    commit_sha TEXT,
    pages_url TEXT,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS build_attempts_task_idx ON build_attempts (email, task);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record inserts one attempt row.
func (s *PostgresStore) Record(a Attempt) error {
	query := `INSERT INTO build_attempts (id, email, task, round, nonce, status, repo_url, commit_sha, pages_url, error, created_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    repo_url = EXCLUDED.repo_url,
    commit_sha = EXCLUDED.commit_sha,
    pages_url = EXCLUDED.pages_url,
    error = EXCLUDED.error,
    finished_at = EXCLUDED.finished_at`
	_, err := s.db.Exec(query,
		a.ID,
		a.Email,
		a.Task,
		a.Round,
		a.Nonce,
		a.Status,
		a.RepoURL,
		a.CommitSHA,
		a.PagesURL,
		a.Error,
		a.CreatedAt,
		a.FinishedAt,
	)
	return err
}

// ListRecent returns the newest attempts first.
func (s *PostgresStore) ListRecent(limit int) ([]Attempt, error) {
	rows, err := s.db.Query(`SELECT id, email, task, round, nonce, status, repo_url, commit_sha, pages_url, error, created_at, finished_at
FROM build_attempts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var repoURL, commitSHA, pagesURL, errMsg sql.NullString
		if err := rows.Scan(&a.ID, &a.Email, &a.Task, &a.Round, &a.Nonce, &a.Status, &repoURL, &commitSHA, &pagesURL, &errMsg, &a.CreatedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		if repoURL.Valid {
			a.RepoURL = repoURL.String
		}
		if commitSHA.Valid {
			a.CommitSHA = commitSHA.String
		}
		if pagesURL.Valid {
			a.PagesURL = pagesURL.String
		}
		if errMsg.Valid {
			a.Error = errMsg.String
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
