package vectorstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dgallion1/regcheck/internal/document"
)

//go:embed schema.sql
var schema string

// SQLiteStore keeps chunks and float32 embedding blobs in one SQLite table.
// Similarity is computed in Go over the filtered rows, which suits a corpus
// of a few regulatory documents.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

func sqlitePath(dataDir string) string {
	if dataDir == "" {
		dataDir = "data"
	}
	return filepath.Join(dataDir, "regcheck.db")
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted
// for throwaway stores.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, chunks []document.Chunk, vectors [][]float32) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for name, hash := range documentVersions(chunks) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_name = ? AND content_hash <> ?`, name, hash); err != nil {
			return fmt.Errorf("drop stale chunks of %s: %w", name, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_name, page_number, chunk_index, chunk_type,
			content, char_count, word_count, content_hash, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_name = excluded.document_name,
			page_number   = excluded.page_number,
			chunk_index   = excluded.chunk_index,
			chunk_type    = excluded.chunk_type,
			content       = excluded.content,
			char_count    = excluded.char_count,
			word_count    = excluded.word_count,
			content_hash  = excluded.content_hash,
			embedding     = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentName, c.PageNumber, c.Index, string(c.Type),
			c.Content, c.CharCount, c.WordCount, c.ContentHash, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int, filters Filters) ([]document.SearchResult, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 || len(vector) == 0 {
		return []document.SearchResult{}, nil
	}

	query := `SELECT chunk_id, document_name, page_number, chunk_index, chunk_type, content,
		char_count, word_count, content_hash, embedding FROM chunks`
	var where []string
	var args []any
	for _, key := range []string{FilterDocumentName, FilterChunkType, FilterPageNumber, FilterContentHash} {
		v, ok := filters[key]
		if !ok {
			continue
		}
		where = append(where, key+" = ?")
		if key == FilterPageNumber {
			n, _ := strconv.Atoi(v)
			args = append(args, n)
		} else {
			args = append(args, v)
		}
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	results := []document.SearchResult{}
	for rows.Next() {
		var c document.Chunk
		var typ string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentName, &c.PageNumber, &c.Index, &typ, &c.Content,
			&c.CharCount, &c.WordCount, &c.ContentHash, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Type = document.ChunkType(typ)
		emb, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		results = append(results, document.NewSearchResult(c, CosineSimilarity(vector, emb)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return rankTopK(results, k), nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountByDocument(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT document_name, COUNT(*) FROM chunks GROUP BY document_name`)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) HasDocument(ctx context.Context, name, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_name = ? AND content_hash = ?`, name, contentHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", name, err)
	}
	return n > 0, nil
}
