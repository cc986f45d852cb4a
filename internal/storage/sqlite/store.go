// Package sqlite implements the durable keyframe descriptor / loop-edge
// database backing the loop detector (§4.5, §8), grounded on the
// teacher's internal/db.DB / internal/lidar/storage/sqlite store family:
// a thin *sql.DB wrapper plus one store type per table, each exposing
// plain Go methods rather than a query builder.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the keyframe database connection.
type Store struct {
	*sql.DB
}

// Open opens (creating if absent) the sqlite database at path and runs
// pending migrations, mirroring the teacher's NewDB-then-MigrateUp
// sequence in internal/db/db.go.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	s := &Store{DB: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
