// Package retriever turns a natural-language query into ranked chunks,
// favouring preferred chunk types and backfilling sparse filtered results.
package retriever

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgallion1/regcheck/internal/document"
	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

const (
	DefaultK          = 10
	DefaultMinResults = 5
)

// Options shape a single retrieval.
type Options struct {
	K              int
	PreferredTypes []document.ChunkType
	Filters        vectorstore.Filters
	// Blend, when positive, ranks by similarity plus Blend for preferred
	// types instead of listing every preferred chunk first.
	Blend float64
}

type Retriever struct {
	embedder   llm.Embedder
	store      vectorstore.Store
	minResults int
	logger     *slog.Logger
}

func New(embedder llm.Embedder, store vectorstore.Store, minResults int, logger *slog.Logger) *Retriever {
	if minResults <= 0 {
		minResults = DefaultMinResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder:   embedder,
		store:      store,
		minResults: minResults,
		logger:     logger,
	}
}

// Search is a plain similarity query with no type preference.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]document.SearchResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Query(ctx, vec, k, nil)
}

// Retrieve returns at most opts.K results. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]document.SearchResult, error) {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}
	if err := opts.Filters.Validate(); err != nil {
		return nil, err
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := r.store.Query(ctx, vec, k, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	results = rank(results, opts.PreferredTypes, opts.Blend)
	if len(results) > k {
		results = results[:k]
	}

	if len(results) < r.minResults {
		extra, err := r.store.Query(ctx, vec, k, nil)
		if err != nil {
			return nil, fmt.Errorf("fallback query: %w", err)
		}
		r.logger.Debug("retrieval backfill",
			"query_len", len([]rune(query)),
			"primary", len(results),
			"fallback", len(extra),
		)
		results = dedup(append(results, extra...))
		if len(results) > k {
			results = results[:k]
		}
	}
	return results, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// rank orders results for the preferred types. With blend <= 0 it is a
// stable partition: preferred first, each group keeping similarity order.
func rank(results []document.SearchResult, preferred []document.ChunkType, blend float64) []document.SearchResult {
	if len(preferred) == 0 {
		return results
	}
	pref := make(map[document.ChunkType]bool, len(preferred))
	for _, t := range preferred {
		pref[t] = true
	}

	out := make([]document.SearchResult, len(results))
	copy(out, results)
	if blend > 0 {
		score := func(r document.SearchResult) float64 {
			if pref[r.Chunk.Type] {
				return r.Similarity + blend
			}
			return r.Similarity
		}
		sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pref[out[i].Chunk.Type] && !pref[out[j].Chunk.Type]
	})
	return out
}

// dedup drops results whose content was already seen, keeping the first.
func dedup(results []document.SearchResult) []document.SearchResult {
	seen := make(map[[sha256.Size]byte]bool, len(results))
	out := make([]document.SearchResult, 0, len(results))
	for _, r := range results {
		key := sha256.Sum256([]byte(r.Chunk.Content))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
