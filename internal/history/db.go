// Package history persists run summaries in a per-project SQLite database.
//
// The database lives at .cibox/history.db next to the pipeline definition.
// Writes go through a single-connection writer to keep SQLite happy under
// concurrent use; reads get their own small pool. Schema management is
// migration-based, with the SQL files embedded in the binary.
package history

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultRelPath is the project-relative location of the history database.
const DefaultRelPath = ".cibox/history.db"

// DB bundles the writer and reader connections to one SQLite file.
type DB struct {
	// Writer is the single-connection handle used for all writes.
	Writer *sql.DB

	// Reader serves queries and may hold several connections.
	Reader *sql.DB
}

// DefaultPath returns the history database path for a project directory.
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, filepath.FromSlash(DefaultRelPath))
}

// NewDB opens the database file, creating it when missing. WAL mode keeps
// readers unblocked during writes; the busy timeout covers the writer
// briefly holding the file.
func NewDB(path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := writer.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

// Close closes both handles, returning the first error encountered.
func (db *DB) Close() error {
	writerErr := db.Writer.Close()
	readerErr := db.Reader.Close()
	if writerErr != nil {
		return writerErr
	}
	return readerErr
}
