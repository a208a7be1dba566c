// Package vectorstore persists chunks with their embeddings and answers
// cosine nearest-neighbor queries with optional equality filters.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dgallion1/regcheck/internal/document"
)

var (
	// ErrUnsupportedFilter is returned for filter keys outside the chunk fields.
	ErrUnsupportedFilter = errors.New("unsupported filter key")
	// ErrLengthMismatch is returned when chunks and vectors differ in length.
	ErrLengthMismatch = errors.New("chunks and vectors differ in length")
)

// Filter keys accepted by Query.
const (
	FilterDocumentName = "document_name"
	FilterChunkType    = "chunk_type"
	FilterPageNumber   = "page_number"
	FilterContentHash  = "content_hash"
)

// Filters are equality constraints on chunk fields, ANDed together.
type Filters map[string]string

// Validate rejects unknown keys and malformed page numbers.
func (f Filters) Validate() error {
	for k, v := range f {
		switch k {
		case FilterDocumentName, FilterChunkType, FilterContentHash:
		case FilterPageNumber:
			if _, err := strconv.Atoi(v); err != nil {
				return fmt.Errorf("filter %s=%q: %w", k, v, err)
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedFilter, k)
		}
	}
	return nil
}

// matches reports whether c satisfies every filter.
func (f Filters) matches(c document.Chunk) bool {
	for k, v := range f {
		switch k {
		case FilterDocumentName:
			if c.DocumentName != v {
				return false
			}
		case FilterChunkType:
			if string(c.Type) != v {
				return false
			}
		case FilterContentHash:
			if c.ContentHash != v {
				return false
			}
		case FilterPageNumber:
			if strconv.Itoa(c.PageNumber) != v {
				return false
			}
		}
	}
	return true
}

// Store is the similarity-search contract every backend implements.
// Readers may run concurrently; writes are serialized and atomic per call.
type Store interface {
	// Upsert writes one vector per chunk, same order, all or nothing.
	// Existing chunks of the same document with another content hash are
	// replaced in the same write.
	Upsert(ctx context.Context, chunks []document.Chunk, vectors [][]float32) error
	// Query returns up to k results by descending similarity
	// (1 - cosine distance). Ties keep store order.
	Query(ctx context.Context, vector []float32, k int, filters Filters) ([]document.SearchResult, error)
	Clear(ctx context.Context) error
	CountByDocument(ctx context.Context) (map[string]int, error)
	// HasDocument reports whether chunks for this exact document version exist.
	HasDocument(ctx context.Context, name, contentHash string) (bool, error)
	Close() error
}

// Backend names accepted by New.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	DataDir string // sqlite and chromem

	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantTLS        bool
	QdrantCollection string
	Dimensions       int
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return OpenSQLite(sqlitePath(cfg.DataDir))
	case BackendChromem:
		return OpenChromem(chromemPath(cfg.DataDir))
	case BackendQdrant:
		return OpenQdrant(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.QdrantCollection,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

func checkUpsert(chunks []document.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}
	for i, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
		if len(vectors[i]) == 0 {
			return fmt.Errorf("chunk %s: empty vector", c.ID)
		}
	}
	return nil
}

// documentVersions maps each document in a batch to its content hash.
func documentVersions(chunks []document.Chunk) map[string]string {
	out := make(map[string]string)
	for _, c := range chunks {
		out[c.DocumentName] = c.ContentHash
	}
	return out
}

// rankTopK orders results by descending similarity, stable for ties, and
// keeps the first k.
func rankTopK(results []document.SearchResult, k int) []document.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
