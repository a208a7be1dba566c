package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgallion1/regcheck/internal/chunker"
	"github.com/dgallion1/regcheck/internal/document"
	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/metrics"
	"github.com/dgallion1/regcheck/internal/parser"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

// ErrNoChunks is returned when a document yields no chunk worth storing.
var ErrNoChunks = errors.New("no extractable content")

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	Chunk         chunker.Config
	Parser        parser.Options
	BatchSize     int
	MaxConcurrent int
	// DocumentPaths are the files loaded at startup and on reload.
	DocumentPaths []string
}

// FileInput names a file to ingest. ContentHash is computed when empty.
type FileInput struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash,omitempty"`
}

type FileResult struct {
	File       string `json:"file"`
	ChunkCount int    `json:"chunk_count"`
}

type FileFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Result is the per-call outcome of IngestFiles. Lists are in input order.
type Result struct {
	Processed []FileResult  `json:"processed"`
	Skipped   []FileResult  `json:"skipped"`
	Failed    []FileFailure `json:"failed"`
}

// Outcome describes one ingested document.
type Outcome struct {
	Document    string `json:"document"`
	ContentHash string `json:"content_hash"`
	Chunks      int    `json:"chunk_count"`
	Skipped     bool   `json:"skipped"`
}

// progressFunc receives stage changes while one document is ingested.
type progressFunc func(status JobStatus, totalChunks, embedded int)

// Ingester parses, chunks, embeds and stores documents.
type Ingester struct {
	store    vectorstore.Store
	embedder llm.Embedder
	cfg      IngestConfig
	metrics  *metrics.Metrics
	log      *slog.Logger

	reloadMu sync.Mutex

	statsMu sync.Mutex
	stats   map[string]chunker.Stats
}

func NewIngester(store vectorstore.Store, embedder llm.Embedder, cfg IngestConfig, m *metrics.Metrics, log *slog.Logger) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		stats:    make(map[string]chunker.Stats),
	}
}

// IngestFiles ingests files concurrently. It never returns an error; each
// file lands in exactly one of the result lists.
func (in *Ingester) IngestFiles(ctx context.Context, files []FileInput) Result {
	type fileOutcome struct {
		out Outcome
		err error
	}
	outcomes := make([]fileOutcome, len(files))
	sem := make(chan struct{}, in.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	cancelRest := func(from int, err error) {
		for j := from; j < len(files); j++ {
			outcomes[j] = fileOutcome{err: err}
		}
	}

queue:
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			cancelRest(i, err)
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			cancelRest(i, ctx.Err())
			break queue
		}
		wg.Add(1)
		go func(i int, f FileInput) {
			defer wg.Done()
			defer func() { <-sem }()
			data, err := os.ReadFile(f.Path)
			if err != nil {
				outcomes[i] = fileOutcome{err: fmt.Errorf("read: %w", err)}
				return
			}
			out, err := in.ingest(ctx, filepath.Base(f.Path), data, f.ContentHash, nil)
			outcomes[i] = fileOutcome{out: out, err: err}
		}(i, f)
	}
	wg.Wait()

	res := Result{
		Processed: []FileResult{},
		Skipped:   []FileResult{},
		Failed:    []FileFailure{},
	}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			res.Failed = append(res.Failed, FileFailure{File: files[i].Path, Error: o.err.Error()})
		case o.out.Skipped:
			res.Skipped = append(res.Skipped, FileResult{File: files[i].Path, ChunkCount: o.out.Chunks})
		default:
			res.Processed = append(res.Processed, FileResult{File: files[i].Path, ChunkCount: o.out.Chunks})
		}
	}
	in.log.Info("ingestion finished",
		"processed", len(res.Processed),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed),
	)
	return res
}

// IngestDocument ingests raw bytes under the given document name.
func (in *Ingester) IngestDocument(ctx context.Context, name string, data []byte, contentHash string) (Outcome, error) {
	return in.ingest(ctx, name, data, contentHash, nil)
}

func (in *Ingester) ingest(ctx context.Context, name string, data []byte, contentHash string, progress progressFunc) (out Outcome, err error) {
	if progress == nil {
		progress = func(JobStatus, int, int) {}
	}
	if contentHash == "" {
		contentHash = ContentHashHex(data)
	}
	out = Outcome{Document: name, ContentHash: contentHash}
	log := in.log.With("document", name, "content_hash", shortHash(contentHash))

	defer func() {
		switch {
		case err != nil:
			log.Error("ingest failed", "error", err)
			in.metrics.RecordIngest("failed", 0)
		case out.Skipped:
			in.metrics.RecordIngest("skipped", 0)
		default:
			in.metrics.RecordIngest("processed", out.Chunks)
		}
	}()

	exists, err := in.store.HasDocument(ctx, name, contentHash)
	if err != nil {
		return out, fmt.Errorf("check existing: %w", err)
	}
	if exists {
		counts, err := in.store.CountByDocument(ctx)
		if err != nil {
			return out, fmt.Errorf("count chunks: %w", err)
		}
		out.Skipped = true
		out.Chunks = counts[name]
		log.Info("document unchanged, skipping", "chunks", out.Chunks)
		return out, nil
	}

	progress(StatusParsing, 0, 0)
	p, err := parser.ForFile(name, in.cfg.Parser)
	if err != nil {
		return out, err
	}
	src, err := p.Parse(bytes.NewReader(data), name)
	if err != nil {
		return out, fmt.Errorf("parse: %w", err)
	}
	src.Name = name
	for _, perr := range src.PageErrors {
		log.Warn("page skipped", "error", perr)
	}

	progress(StatusChunking, 0, 0)
	chunks := chunker.ChunkSource(src, contentHash, in.cfg.Chunk)
	if len(chunks) == 0 {
		return out, ErrNoChunks
	}
	log.Info("chunked document", "pages", len(src.Pages), "chunks", len(chunks))

	progress(StatusEmbedding, len(chunks), 0)
	vectors, err := in.embedChunks(ctx, chunks, func(done int) {
		progress(StatusEmbedding, len(chunks), done)
	})
	if err != nil {
		return out, err
	}

	progress(StatusStoring, len(chunks), len(chunks))
	if err := in.store.Upsert(ctx, chunks, vectors); err != nil {
		return out, fmt.Errorf("store: %w", err)
	}

	in.statsMu.Lock()
	in.stats[name] = chunker.ComputeStats(chunks)
	in.statsMu.Unlock()

	out.Chunks = len(chunks)
	log.Info("document stored", "chunks", out.Chunks)
	return out, nil
}

// embedChunks embeds chunk contents in batches, retrying transient
// provider errors with backoff.
func (in *Ingester) embedChunks(ctx context.Context, chunks []document.Chunk, done func(int)) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += in.cfg.BatchSize {
		end := min(start+in.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		var batch [][]float32
		attempt := 0
		err := llm.Retry(ctx, func() error {
			var err error
			batch, err = in.embedder.Embed(ctx, texts)
			if err != nil && llm.IsRetryable(err) {
				in.log.Warn("retryable embedding error", "batch_start", start, "attempt", attempt, "error", err)
			}
			attempt++
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(batch))
		}
		vectors = append(vectors, batch...)
		done(len(vectors))
	}
	return vectors, nil
}

// DocumentStatus is the load state of one document.
type DocumentStatus struct {
	Name       string `json:"name"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"` // "loaded" or "not_loaded"
}

type Status struct {
	TotalDocuments int              `json:"total_documents"`
	TotalChunks    int              `json:"total_chunks"`
	PerDocument    []DocumentStatus `json:"per_document"`
}

// Status reports what the store holds. Configured documents that are not
// stored are listed as not_loaded.
func (in *Ingester) Status(ctx context.Context) (*Status, error) {
	counts, err := in.store.CountByDocument(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	st := &Status{PerDocument: []DocumentStatus{}}
	seen := make(map[string]bool)
	for _, p := range in.cfg.DocumentPaths {
		name := filepath.Base(p)
		if seen[name] {
			continue
		}
		seen[name] = true
		ds := DocumentStatus{Name: name, Status: "not_loaded"}
		if n := counts[name]; n > 0 {
			ds.ChunkCount = n
			ds.Status = "loaded"
		}
		st.PerDocument = append(st.PerDocument, ds)
	}

	others := make([]string, 0, len(counts))
	for name := range counts {
		if !seen[name] {
			others = append(others, name)
		}
	}
	sort.Strings(others)
	for _, name := range others {
		st.PerDocument = append(st.PerDocument, DocumentStatus{Name: name, ChunkCount: counts[name], Status: "loaded"})
	}

	for _, n := range counts {
		if n > 0 {
			st.TotalDocuments++
			st.TotalChunks += n
		}
	}
	return st, nil
}

// LoadConfigured ingests the configured documents, skipping unchanged ones.
func (in *Ingester) LoadConfigured(ctx context.Context) Result {
	files := make([]FileInput, 0, len(in.cfg.DocumentPaths))
	for _, p := range in.cfg.DocumentPaths {
		files = append(files, FileInput{Path: p})
	}
	return in.IngestFiles(ctx, files)
}

// Reload clears the store and ingests the configured documents again.
func (in *Ingester) Reload(ctx context.Context) (Result, error) {
	in.reloadMu.Lock()
	defer in.reloadMu.Unlock()

	if err := in.store.Clear(ctx); err != nil {
		return Result{}, fmt.Errorf("clear store: %w", err)
	}
	in.statsMu.Lock()
	in.stats = make(map[string]chunker.Stats)
	in.statsMu.Unlock()

	in.log.Info("store cleared, reloading documents", "documents", len(in.cfg.DocumentPaths))
	return in.LoadConfigured(ctx), nil
}

// ChunkStats returns chunk statistics of the documents ingested by this
// process, keyed by document name.
func (in *Ingester) ChunkStats() map[string]chunker.Stats {
	in.statsMu.Lock()
	defer in.statsMu.Unlock()
	out := make(map[string]chunker.Stats, len(in.stats))
	for k, v := range in.stats {
		out[k] = v
	}
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
