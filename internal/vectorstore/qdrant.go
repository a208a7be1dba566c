package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/dgallion1/regcheck/internal/document"
)

// QdrantConfig configures the remote Qdrant backend.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
	// MaxMessageSize bounds gRPC messages in bytes. Defaults to 32MB.
	MaxMessageSize int
}

// QdrantStore keeps all chunks in one cosine-distance collection. Point ids
// are UUIDv5 values derived from chunk ids, so re-upserts overwrite.
type QdrantStore struct {
	mu         sync.RWMutex
	client     *qdrant.Client
	collection string
	dimensions int
}

// OpenQdrant connects over gRPC and creates the collection if missing.
func OpenQdrant(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "regulatory_documents"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 32 << 20
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: embedding dimensions must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, collection: cfg.Collection, dimensions: cfg.Dimensions}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

// pointID maps a chunk id onto a stable UUID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *QdrantStore) Upsert(ctx context.Context, chunks []document.Chunk, vectors [][]float32) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != s.dimensions {
			return fmt.Errorf("chunk %s: vector has %d dimensions, collection expects %d", chunks[i].ID, len(v), s.dimensions)
		}
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: chunkPayload(c),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}

	for name, hash := range documentVersions(chunks) {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must:    []*qdrant.Condition{qdrant.NewMatchKeyword(FilterDocumentName, name)},
				MustNot: []*qdrant.Condition{qdrant.NewMatchKeyword(FilterContentHash, hash)},
			}),
		})
		if err != nil {
			return fmt.Errorf("drop stale points of %s: %w", name, err)
		}
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, filters Filters) ([]document.SearchResult, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 || len(vector) == 0 {
		return []document.SearchResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         qdrantFilter(filters),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]document.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, document.NewSearchResult(chunkFromPayload(h.GetPayload()), float64(h.GetScore())))
	}
	return rankTopK(results, k), nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.collection, err)
	}
	return s.ensureCollection(ctx)
}

func (s *QdrantStore) CountByDocument(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	var offset *qdrant.PointId
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(256)),
			WithPayload:    qdrant.NewWithPayloadInclude(FilterDocumentName),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", s.collection, err)
		}
		for _, p := range points {
			counts[p.GetPayload()[FilterDocumentName].GetStringValue()]++
		}
		if next == nil || len(points) == 0 {
			return counts, nil
		}
		offset = next
	}
}

func (s *QdrantStore) HasDocument(ctx context.Context, name, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatchKeyword(FilterDocumentName, name),
			qdrant.NewMatchKeyword(FilterContentHash, contentHash),
		}},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return false, fmt.Errorf("count %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantFilter converts equality filters into Must conditions. Filters must
// already be validated.
func qdrantFilter(filters Filters) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	f := &qdrant.Filter{}
	for _, key := range []string{FilterDocumentName, FilterChunkType, FilterPageNumber, FilterContentHash} {
		v, ok := filters[key]
		if !ok {
			continue
		}
		if key == FilterPageNumber {
			n, _ := strconv.ParseInt(v, 10, 64)
			f.Must = append(f.Must, qdrant.NewMatchInt(key, n))
			continue
		}
		f.Must = append(f.Must, qdrant.NewMatchKeyword(key, v))
	}
	return f
}

func chunkPayload(c document.Chunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"chunk_id":         qdrant.NewValueString(c.ID),
		FilterDocumentName: qdrant.NewValueString(c.DocumentName),
		FilterPageNumber:   qdrant.NewValueInt(int64(c.PageNumber)),
		"chunk_index":      qdrant.NewValueInt(int64(c.Index)),
		FilterChunkType:    qdrant.NewValueString(string(c.Type)),
		"content":          qdrant.NewValueString(c.Content),
		FilterContentHash:  qdrant.NewValueString(c.ContentHash),
		"char_count":       qdrant.NewValueInt(int64(c.CharCount)),
		"word_count":       qdrant.NewValueInt(int64(c.WordCount)),
	}
}

func chunkFromPayload(p map[string]*qdrant.Value) document.Chunk {
	return document.Chunk{
		ID:           p["chunk_id"].GetStringValue(),
		DocumentName: p[FilterDocumentName].GetStringValue(),
		PageNumber:   int(p[FilterPageNumber].GetIntegerValue()),
		Index:        int(p["chunk_index"].GetIntegerValue()),
		Content:      p["content"].GetStringValue(),
		Type:         document.ChunkType(p[FilterChunkType].GetStringValue()),
		CharCount:    int(p["char_count"].GetIntegerValue()),
		WordCount:    int(p["word_count"].GetIntegerValue()),
		ContentHash:  p[FilterContentHash].GetStringValue(),
	}
}
