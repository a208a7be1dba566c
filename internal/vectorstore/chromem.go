package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dgallion1/regcheck/internal/document"
)

// ChromemStore keeps one chromem collection per document version, named
// "<document>#<content hash>". Replacing a document swaps collections.
type ChromemStore struct {
	mu sync.RWMutex
	db *chromem.DB
}

func chromemPath(dataDir string) string {
	if dataDir == "" {
		dataDir = "data"
	}
	return filepath.Join(dataDir, "chromem")
}

// OpenChromem opens a persistent chromem database at path, or an in-memory
// one when path is empty.
func OpenChromem(path string) (*ChromemStore, error) {
	if path == "" {
		return &ChromemStore{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &ChromemStore{db: db}, nil
}

// Vectors are always supplied by the caller.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

func collectionName(doc, hash string) string {
	return doc + "#" + hash
}

func splitCollectionName(name string) (doc, hash string) {
	i := strings.LastIndex(name, "#")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// sortedCollections returns collection names in a stable order.
func (s *ChromemStore) sortedCollections() []string {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *ChromemStore) Upsert(ctx context.Context, chunks []document.Chunk, vectors [][]float32) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byCollection := make(map[string][]chromem.Document)
	var order []string
	for i, c := range chunks {
		name := collectionName(c.DocumentName, c.ContentHash)
		if _, ok := byCollection[name]; !ok {
			order = append(order, name)
		}
		byCollection[name] = append(byCollection[name], chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: vectors[i],
			Metadata:  chunkMetadata(c),
		})
	}

	var written []string
	rollback := func() {
		for _, name := range written {
			_ = s.db.DeleteCollection(name)
		}
	}

	existing := s.db.ListCollections()
	for _, name := range order {
		docs := byCollection[name]
		_, existed := existing[name]
		col, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
		if err != nil {
			rollback()
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			if existed {
				ids := make([]string, len(docs))
				for i, d := range docs {
					ids[i] = d.ID
				}
				_ = col.Delete(ctx, nil, nil, ids...)
			} else {
				_ = s.db.DeleteCollection(name)
			}
			rollback()
			return fmt.Errorf("add chunks to %s: %w", name, err)
		}
		if !existed {
			written = append(written, name)
		}
	}

	// Drop older versions of the documents just written.
	versions := documentVersions(chunks)
	for _, name := range s.sortedCollections() {
		doc, hash := splitCollectionName(name)
		if want, ok := versions[doc]; ok && hash != want {
			if err := s.db.DeleteCollection(name); err != nil {
				return fmt.Errorf("drop stale collection %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int, filters Filters) ([]document.SearchResult, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 || len(vector) == 0 {
		return []document.SearchResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var where map[string]string
	if len(filters) > 0 {
		where = make(map[string]string, len(filters))
		for key, v := range filters {
			where[key] = v
		}
	}

	results := []document.SearchResult{}
	for _, name := range s.sortedCollections() {
		doc, hash := splitCollectionName(name)
		if v, ok := filters[FilterDocumentName]; ok && v != doc {
			continue
		}
		if v, ok := filters[FilterContentHash]; ok && v != hash {
			continue
		}
		col := s.db.GetCollection(name, noEmbedding)
		if col == nil {
			continue
		}
		n := col.Count()
		if n == 0 {
			continue
		}
		if n > k {
			n = k
		}
		hits, err := col.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", name, err)
		}
		for _, h := range hits {
			results = append(results, document.NewSearchResult(chunkFromMetadata(h.ID, h.Content, h.Metadata), float64(h.Similarity)))
		}
	}

	return rankTopK(results, k), nil
}

func (s *ChromemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.sortedCollections() {
		if err := s.db.DeleteCollection(name); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	}
	return nil
}

func (s *ChromemStore) CountByDocument(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for name, col := range s.db.ListCollections() {
		doc, _ := splitCollectionName(name)
		if n := col.Count(); n > 0 {
			counts[doc] += n
		}
	}
	return counts, nil
}

func (s *ChromemStore) HasDocument(_ context.Context, name, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(name, contentHash), noEmbedding)
	return col != nil && col.Count() > 0, nil
}

func (s *ChromemStore) Close() error {
	return nil
}

func chunkMetadata(c document.Chunk) map[string]string {
	return map[string]string{
		FilterDocumentName: c.DocumentName,
		FilterChunkType:    string(c.Type),
		FilterPageNumber:   strconv.Itoa(c.PageNumber),
		FilterContentHash:  c.ContentHash,
		"chunk_index":      strconv.Itoa(c.Index),
		"char_count":       strconv.Itoa(c.CharCount),
		"word_count":       strconv.Itoa(c.WordCount),
	}
}

func chunkFromMetadata(id, content string, md map[string]string) document.Chunk {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(md[key])
		return n
	}
	return document.Chunk{
		ID:           id,
		DocumentName: md[FilterDocumentName],
		PageNumber:   atoi(FilterPageNumber),
		Index:        atoi("chunk_index"),
		Content:      content,
		Type:         document.ChunkType(md[FilterChunkType]),
		CharCount:    atoi("char_count"),
		WordCount:    atoi("word_count"),
		ContentHash:  md[FilterContentHash],
	}
}
