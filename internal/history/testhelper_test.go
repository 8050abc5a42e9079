package history

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// setupTestStore creates a Store over a named shared in-memory SQLite
// database. Writer and reader connections share the same database via
// cache=shared; a name derived from t.Name() isolates parallel tests.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	// Percent-encode the test name so it stays a plain filename component
	// in the file: DSN. WAL does not apply to in-memory databases.
	safeName := url.PathEscape(t.Name())
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		t.Fatalf("open test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{Writer: writer, Reader: reader}

	if err := RunMigrations(db.Writer); err != nil {
		db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db)
}
