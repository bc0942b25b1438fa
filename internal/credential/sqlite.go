package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mycelian/vendor-presence/internal/types"

	_ "modernc.org/sqlite"
)

const defaultSlot = "default"

// SQLiteStore keeps the session in a local SQLite database so it survives
// restarts of the vendor app.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS Credentials (
            Slot TEXT PRIMARY KEY,
            Token TEXT NOT NULL,
            VendorId TEXT NOT NULL,
            UpdatedAt TIMESTAMP NOT NULL
        );`)
	if err != nil {
		return fmt.Errorf("credential: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (types.Session, error) {
	var sess types.Session
	row := s.db.QueryRowContext(ctx, `SELECT Token, VendorId FROM Credentials WHERE Slot = ?`, defaultSlot)
	if err := row.Scan(&sess.Token, &sess.VendorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, fmt.Errorf("credential: load: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess types.Session) error {
	if !sess.Valid() {
		return errors.New("credential: token and vendor id are required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO Credentials (Slot, Token, VendorId, UpdatedAt)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(Slot) DO UPDATE SET Token = excluded.Token, VendorId = excluded.VendorId, UpdatedAt = excluded.UpdatedAt`,
		defaultSlot, sess.Token, sess.VendorID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("credential: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM Credentials WHERE Slot = ?`, defaultSlot); err != nil {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
