package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/serverbot/internal/store"
)

// Schema is the session state table layout.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	account       TEXT PRIMARY KEY,
	machine_token BLOB NOT NULL,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.SessionStore for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	sealer *store.Sealer
}

// New opens (or creates) the session database at dbPath and applies the schema.
// Tokens are sealed with sealer before they are written; a nil sealer stores them as-is.
func New(dbPath string, sealer *store.Sealer) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data folder: %w", err)
		}
	}
	return NewWithSetup(dbPath, sealer, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema against ":memory:".
func NewWithSetup(dbPath string, sealer *store.Sealer, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, sealer: sealer}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession loads the stored state for account.
func (s *SQLiteStore) GetSession(ctx context.Context, account string) (*store.Session, error) {
	query := `
		SELECT account, machine_token, updated_at
		FROM sessions
		WHERE account = ?
	`
	var (
		session store.Session
		sealed  []byte
	)
	err := s.db.QueryRowContext(ctx, query, account).Scan(&session.Account, &sealed, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}

	token, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open machine token: %w", err)
	}
	session.MachineToken = string(token)

	return &session, nil
}

// SaveMachineToken inserts or replaces the token for account.
func (s *SQLiteStore) SaveMachineToken(ctx context.Context, account, token string) error {
	sealed, err := s.seal([]byte(token))
	if err != nil {
		return fmt.Errorf("seal machine token: %w", err)
	}

	query := `
		INSERT INTO sessions (account, machine_token, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account) DO UPDATE SET
			machine_token = excluded.machine_token,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, account, sealed); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession forgets the state for account.
func (s *SQLiteStore) DeleteSession(ctx context.Context, account string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account = ?`, account); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) seal(plaintext []byte) ([]byte, error) {
	if s.sealer == nil {
		return plaintext, nil
	}
	return s.sealer.Seal(plaintext)
}

func (s *SQLiteStore) open(sealed []byte) ([]byte, error) {
	if s.sealer == nil {
		return sealed, nil
	}
	return s.sealer.Open(sealed)
}
