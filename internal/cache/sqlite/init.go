package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the cache_records table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache_records (
		url TEXT PRIMARY KEY,
		local_path TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		last_validated DATETIME
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create cache_records table: %w", err)
	}

	return db, nil
}
