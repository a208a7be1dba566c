package retriever

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/regcheck/internal/document"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

// fixedEmbedder maps every query onto the same vector.
type fixedEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func chunk(doc string, page int, content string, typ document.ChunkType) document.Chunk {
	return document.Chunk{
		ID:           doc + "_" + content,
		DocumentName: doc,
		PageNumber:   page,
		Content:      content,
		Type:         typ,
		CharCount:    len(content),
		ContentHash:  "hash-" + doc,
	}
}

func openStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.OpenSQLite(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedRules stores four chunks whose similarity to {1,0,0} is 1.0, 0.8,
// 0.6 and 0.5.
func seedRules(t *testing.T, s vectorstore.Store) {
	t.Helper()
	chunks := []document.Chunk{
		chunk("rules.pdf", 1, "general background", document.TypeGeneral),
		chunk("rules.pdf", 2, "rule 4.1 shall apply", document.TypeRegulatoryRule),
		chunk("rules.pdf", 3, "firms must report", document.TypeRequirement),
		chunk("rules.pdf", 4, "for example a bank", document.TypeExample),
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0.8, 0.6, 0},
		{0.6, 0.8, 0},
		{0.5, 0, 0.8660254},
	}
	require.NoError(t, s.Upsert(context.Background(), chunks, vectors))
}

func contents(results []document.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Content
	}
	return out
}

func TestSearch_OrdersBySimilarity(t *testing.T) {
	s := openStore(t)
	seedRules(t, s)
	r := New(&fixedEmbedder{vec: []float32{1, 0, 0}}, s, 0, nil)

	res, err := r.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"general background", "rule 4.1 shall apply", "firms must report"}, contents(res))
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Similarity, res[i].Similarity)
	}
}

func TestRetrieve_PreferredTypesFirst(t *testing.T) {
	s := openStore(t)
	seedRules(t, s)
	emb := &fixedEmbedder{vec: []float32{1, 0, 0}}
	r := New(emb, s, 0, nil)

	res, err := r.Retrieve(context.Background(), "reporting duties", Options{
		K:              10,
		PreferredTypes: []document.ChunkType{document.TypeRegulatoryRule, document.TypeRequirement},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"rule 4.1 shall apply",
		"firms must report",
		"general background",
		"for example a bank",
	}, contents(res))
	assert.Equal(t, 1, emb.calls, "query is embedded once")
}

func TestRetrieve_BlendedScore(t *testing.T) {
	s := openStore(t)
	seedRules(t, s)
	r := New(&fixedEmbedder{vec: []float32{1, 0, 0}}, s, 0, nil)

	res, err := r.Retrieve(context.Background(), "q", Options{
		K:              10,
		PreferredTypes: []document.ChunkType{document.TypeRegulatoryRule, document.TypeRequirement},
		Blend:          0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"rule 4.1 shall apply",
		"general background",
		"firms must report",
		"for example a bank",
	}, contents(res))
}

func TestRetrieve_FallbackBackfillsFilteredResults(t *testing.T) {
	s := openStore(t)
	seedRules(t, s)
	r := New(&fixedEmbedder{vec: []float32{1, 0, 0}}, s, 0, nil)

	res, err := r.Retrieve(context.Background(), "q", Options{
		K:       10,
		Filters: vectorstore.Filters{vectorstore.FilterChunkType: string(document.TypeRegulatoryRule)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"rule 4.1 shall apply",
		"general background",
		"firms must report",
		"for example a bank",
	}, contents(res))
}

func TestRetrieve_DedupByContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx,
		[]document.Chunk{chunk("a.pdf", 1, "shared clause", document.TypeRequirement)},
		[][]float32{{1, 0}}))
	require.NoError(t, s.Upsert(ctx,
		[]document.Chunk{
			chunk("b.pdf", 1, "shared clause", document.TypeRequirement),
			chunk("b.pdf", 2, "other clause", document.TypeGeneral),
		},
		[][]float32{{1, 0}, {0, 1}}))

	r := New(&fixedEmbedder{vec: []float32{1, 0}}, s, 0, nil)
	res, err := r.Retrieve(ctx, "q", Options{
		K:       10,
		Filters: vectorstore.Filters{vectorstore.FilterDocumentName: "b.pdf"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "b.pdf", res[0].Chunk.DocumentName, "first-seen copy is kept")
	assert.Equal(t, "shared clause", res[0].Chunk.Content)
	assert.Equal(t, "other clause", res[1].Chunk.Content)
}

func TestRetrieve_TruncatesToK(t *testing.T) {
	s := openStore(t)
	seedRules(t, s)
	r := New(&fixedEmbedder{vec: []float32{1, 0, 0}}, s, 0, nil)

	res, err := r.Retrieve(context.Background(), "q", Options{
		K:              2,
		PreferredTypes: []document.ChunkType{document.TypeExample},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"general background", "rule 4.1 shall apply"}, contents(res))
}

func TestRetrieve_EmptyStoreIsNotAnError(t *testing.T) {
	r := New(&fixedEmbedder{vec: []float32{1, 0, 0}}, openStore(t), 0, nil)

	res, err := r.Retrieve(context.Background(), "q", Options{K: 10})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	boom := errors.New("provider down")
	r := New(&fixedEmbedder{err: boom}, openStore(t), 0, nil)

	_, err := r.Retrieve(context.Background(), "q", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRetrieve_RejectsUnknownFilter(t *testing.T) {
	r := New(&fixedEmbedder{vec: []float32{1}}, openStore(t), 0, nil)

	_, err := r.Retrieve(context.Background(), "q", Options{Filters: vectorstore.Filters{"author": "x"}})
	assert.ErrorIs(t, err, vectorstore.ErrUnsupportedFilter)
}

func TestRank_StablePartition(t *testing.T) {
	in := []document.SearchResult{
		document.NewSearchResult(chunk("d", 1, "a", document.TypeGeneral), 0.9),
		document.NewSearchResult(chunk("d", 1, "b", document.TypeProcedure), 0.8),
		document.NewSearchResult(chunk("d", 1, "c", document.TypeGeneral), 0.7),
		document.NewSearchResult(chunk("d", 1, "d", document.TypeSchedule), 0.6),
	}
	out := rank(in, []document.ChunkType{document.TypeProcedure, document.TypeSchedule}, 0)
	assert.Equal(t, []string{"b", "d", "a", "c"}, contents(out))
	assert.Equal(t, "a", in[0].Chunk.Content, "input is not reordered")
}
