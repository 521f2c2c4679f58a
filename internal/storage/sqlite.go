// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
)

// maxQueryParams bounds the number of placeholders per IN clause.
const maxQueryParams = 500

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS passages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_path TEXT NOT NULL,
		filename TEXT NOT NULL,
		speaker TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_passages_source ON passages(source_path);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		passages INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Meta returns the metadata value for key and whether it is set.
func (s *SQLiteStorage) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta stores metadata values in one transaction, replacing previous ones.
// Either every value is written or none is.
func (s *SQLiteStorage) SetMeta(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			k, values[k],
		); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// ReplaceSources implements Storage. Nothing is written if any statement fails.
func (s *SQLiteStorage) ReplaceSources(ctx context.Context, sources []SourceRecord, records []PassageRecord) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	paths := make([]string, len(sources))
	for i, src := range sources {
		paths[i] = src.Path
	}
	removed, err := deleteSourcePassages(ctx, tx, paths)
	if err != nil {
		return nil, err
	}

	for _, src := range sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sources (path, id, mtime, size, passages) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET id = excluded.id, mtime = excluded.mtime,
			 size = excluded.size, passages = excluded.passages`,
			src.Path, src.ID, src.Stamp.ModTime, src.Stamp.Size, src.Passages,
		); err != nil {
			return nil, fmt.Errorf("failed to record source %s: %w", src.Path, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (id, source_path, filename, speaker, turn_index, chunk_index, chunk_count, text, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, r := range records {
		p := r.Passage
		m := p.Metadata
		if _, err := stmt.ExecContext(ctx,
			p.ID, m.SourcePath, m.Filename, string(m.Speaker), m.TurnIndex, m.ChunkIndex, m.ChunkCount,
			p.Text, EncodeEmbedding(r.Embedding),
		); err != nil {
			return nil, fmt.Errorf("failed to insert passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteSources implements Storage.
func (s *SQLiteStorage) DeleteSources(ctx context.Context, paths []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	removed, err := deleteSourcePassages(ctx, tx, paths)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, p); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func deleteSourcePassages(ctx context.Context, tx *sql.Tx, paths []string) ([]string, error) {
	var removed []string
	for _, p := range paths {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM passages WHERE source_path = ? ORDER BY seq`, p)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			removed = append(removed, id)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE source_path = ?`, p); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// LoadVectors returns every stored embedding in insertion order.
func (s *SQLiteStorage) LoadVectors(ctx context.Context) ([]VectorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, id, embedding FROM passages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VectorRecord
	for rows.Next() {
		var rec VectorRecord
		var blob []byte
		if err := rows.Scan(&rec.Seq, &rec.ID, &blob); err != nil {
			return nil, err
		}
		if rec.Embedding, err = DecodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("passage %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const passageColumns = `id, source_path, filename, speaker, turn_index, chunk_index, chunk_count, text`

func scanPassage(rows *sql.Rows) (models.Passage, error) {
	var p models.Passage
	var speaker string
	err := rows.Scan(&p.ID, &p.Metadata.SourcePath, &p.Metadata.Filename, &speaker,
		&p.Metadata.TurnIndex, &p.Metadata.ChunkIndex, &p.Metadata.ChunkCount, &p.Text)
	p.Metadata.Speaker = models.ParseSpeaker(speaker)
	return p, err
}

// GetPassages returns the passages with the given IDs. Unknown IDs are absent from the map.
func (s *SQLiteStorage) GetPassages(ctx context.Context, ids []string) (map[string]models.Passage, error) {
	out := make(map[string]models.Passage, len(ids))
	for start := 0; start < len(ids); start += maxQueryParams {
		batch := ids[start:min(start+maxQueryParams, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+passageColumns+` FROM passages WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			p, err := scanPassage(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[p.ID] = p
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListPassages returns passages in insertion order with offset and limit.
func (s *SQLiteStorage) ListPassages(ctx context.Context, offset, limit int) ([]models.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+passageColumns+` FROM passages ORDER BY seq LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Sources returns the recorded sources keyed by path.
func (s *SQLiteStorage) Sources(ctx context.Context) (map[string]SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, id, mtime, size, passages FROM sources`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]SourceRecord)
	for rows.Next() {
		var rec SourceRecord
		var stamp fileid.Stamp
		if err := rows.Scan(&rec.Path, &rec.ID, &stamp.ModTime, &stamp.Size, &rec.Passages); err != nil {
			return nil, err
		}
		rec.Stamp = stamp
		out[rec.Path] = rec
	}
	return out, rows.Err()
}

// CountPassages returns the total number of passages.
func (s *SQLiteStorage) CountPassages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// CountSources returns the number of distinct source files with passages.
func (s *SQLiteStorage) CountSources(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT source_path) FROM passages`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
