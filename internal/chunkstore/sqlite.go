// Package chunkstore persists fetched document chunks in a local SQLite
// database so the inspection view works across runs without refetching.
// Chunks are immutable once a document is ingested; entries only leave the
// store when the document is deleted or re-ingested.
package chunkstore

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keldan/docq/internal/backend"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding cached chunks.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the chunk database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docq.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migration files that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// SaveChunks replaces the stored chunk list for a file.
func (s *Store) SaveChunks(fileID int64, chunks []backend.Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM chunks WHERE file_id = ?", fileID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing chunks for file %d: %w", fileID, err)
	}

	for _, c := range chunks {
		var heading any
		if c.SectionHeading != nil {
			heading = *c.SectionHeading
		}
		var page any
		if c.PageNumber != nil {
			page = *c.PageNumber
		}
		if _, err := tx.Exec(`
			INSERT INTO chunks (id, file_id, chunk_index, content, section_heading, page_number, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, fileID, c.ChunkIndex, c.Content, heading, page,
			c.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %d of file %d: %w", c.ChunkIndex, fileID, err)
		}
	}

	return tx.Commit()
}

// ChunksFor returns the stored chunks of a file in chunk-index order.
// A file with no stored chunks yields an empty slice, not an error.
func (s *Store) ChunksFor(fileID int64) ([]backend.Chunk, error) {
	rows, err := s.db.Query(`
		SELECT id, file_id, chunk_index, content, section_heading, page_number, created_at
		FROM chunks WHERE file_id = ? ORDER BY chunk_index ASC`, fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []backend.Chunk
	for rows.Next() {
		var c backend.Chunk
		var heading sql.NullString
		var page sql.NullInt64
		var createdAt string
		if err := rows.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content, &heading, &page, &createdAt); err != nil {
			return nil, err
		}
		if heading.Valid {
			h := heading.String
			c.SectionHeading = &h
		}
		if page.Valid {
			p := int(page.Int64)
			c.PageNumber = &p
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteChunks removes every stored chunk of a file.
func (s *Store) DeleteChunks(fileID int64) error {
	_, err := s.db.Exec("DELETE FROM chunks WHERE file_id = ?", fileID)
	return err
}

// CachedFileIDs returns the ids of files with stored chunks, ascending.
func (s *Store) CachedFileIDs() ([]int64, error) {
	rows, err := s.db.Query("SELECT DISTINCT file_id FROM chunks ORDER BY file_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
