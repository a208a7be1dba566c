package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/regcheck/internal/chunker"
	"github.com/dgallion1/regcheck/internal/config"
	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/retriever"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

const twoPagePolicy = "Section 4: Data must be encrypted at rest and in transit using approved algorithms.\n" +
	"\fExample: see case study A for an illustration of a retail bank onboarding flow.\n"

// trigramEmbedder hashes character trigrams into a fixed-size vector so
// texts sharing words land close together.
type trigramEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  []error // returned by successive calls before succeeding
}

const trigramDims = 4096

func (e *trigramEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	if len(e.fail) > 0 {
		err := e.fail[0]
		e.fail = e.fail[1:]
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = trigramVector(t)
	}
	return out, nil
}

func (e *trigramEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func trigramVector(text string) []float32 {
	v := make([]float32, trigramDims)
	r := []rune(strings.ToLower(text))
	for i := 0; i+3 <= len(r); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(r[i : i+3])))
		v[h.Sum32()%trigramDims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(paths ...string) IngestConfig {
	return IngestConfig{
		Chunk:         chunker.Config{ChunkSize: 100, ChunkOverlap: 10, MinChunk: 20},
		BatchSize:     16,
		MaxConcurrent: 2,
		DocumentPaths: paths,
	}
}

func newTestIngester(t *testing.T, emb llm.Embedder, cfg IngestConfig) (*Ingester, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.OpenSQLite(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewIngester(store, emb, cfg, nil, quietLogger()), store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestIngest_EndToEndTwoPages(t *testing.T) {
	emb := &trigramEmbedder{}
	in, store := newTestIngester(t, emb, testConfig())
	ctx := context.Background()

	out, err := in.IngestDocument(ctx, "policy.txt", []byte(twoPagePolicy), "")
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if out.Chunks != 2 || out.Skipped {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ContentHash != ContentHashHex([]byte(twoPagePolicy)) {
		t.Fatalf("content hash not derived from bytes: %s", out.ContentHash)
	}

	r := retriever.New(emb, store, 0, quietLogger())
	res, err := r.Search(ctx, "encryption requirements", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if res[0].Chunk.PageNumber != 1 {
		t.Errorf("expected page 1 first, got page %d: %q", res[0].Chunk.PageNumber, res[0].Chunk.Content)
	}
	if res[0].Similarity <= res[1].Similarity {
		t.Errorf("expected descending similarity, got %v then %v", res[0].Similarity, res[1].Similarity)
	}
	if !strings.HasPrefix(res[1].Chunk.Content, "algorithms. Example") {
		t.Errorf("page 2 chunk should start with the page 1 overlap, got %q", res[1].Chunk.Content)
	}

	stats := in.ChunkStats()["policy.txt"]
	if stats.TotalChunks != 2 || stats.ByPage[1] != 1 || stats.ByPage[2] != 1 {
		t.Errorf("chunk stats = %+v", stats)
	}
}

func TestIngestFiles_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.txt", twoPagePolicy)
	emb := &trigramEmbedder{}
	in, store := newTestIngester(t, emb, testConfig())
	ctx := context.Background()

	first := in.IngestFiles(ctx, []FileInput{{Path: path}})
	if len(first.Processed) != 1 || first.Processed[0].ChunkCount != 2 {
		t.Fatalf("first run = %+v", first)
	}
	calls := emb.callCount()

	second := in.IngestFiles(ctx, []FileInput{{Path: path}})
	if len(second.Processed) != 0 || len(second.Skipped) != 1 {
		t.Fatalf("second run = %+v", second)
	}
	if second.Skipped[0].ChunkCount != 2 || second.Skipped[0].File != path {
		t.Errorf("skipped entry = %+v", second.Skipped[0])
	}
	if emb.callCount() != calls {
		t.Errorf("unchanged document was re-embedded")
	}

	counts, err := store.CountByDocument(ctx)
	if err != nil {
		t.Fatalf("CountByDocument: %v", err)
	}
	if counts["policy.txt"] != 2 {
		t.Errorf("expected 2 stored chunks, got %d", counts["policy.txt"])
	}
}

func TestIngestFiles_NewVersionReplacesOld(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.txt", twoPagePolicy)
	in, store := newTestIngester(t, &trigramEmbedder{}, testConfig())
	ctx := context.Background()

	in.IngestFiles(ctx, []FileInput{{Path: path}})
	writeFile(t, dir, "policy.txt", "Rule 9: Firms shall retain every record for five years at minimum.\n")

	res := in.IngestFiles(ctx, []FileInput{{Path: path}})
	if len(res.Processed) != 1 || res.Processed[0].ChunkCount != 1 {
		t.Fatalf("result = %+v", res)
	}
	counts, _ := store.CountByDocument(ctx)
	if counts["policy.txt"] != 1 {
		t.Errorf("old version chunks should be gone, have %d", counts["policy.txt"])
	}
}

func TestIngestFiles_SuppliedHashIsUsed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.txt", twoPagePolicy)
	in, store := newTestIngester(t, &trigramEmbedder{}, testConfig())
	ctx := context.Background()

	in.IngestFiles(ctx, []FileInput{{Path: path, ContentHash: "v1"}})
	ok, err := store.HasDocument(ctx, "policy.txt", "v1")
	if err != nil || !ok {
		t.Fatalf("HasDocument(v1) = %v, %v", ok, err)
	}
}

func TestIngestFiles_Failures(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "policy.txt", twoPagePolicy)
	empty := writeFile(t, dir, "empty.txt", "  \n")
	csv := writeFile(t, dir, "table.csv", "a,b\n1,2\n")
	missing := filepath.Join(dir, "missing.pdf")

	in, _ := newTestIngester(t, &trigramEmbedder{}, testConfig())
	res := in.IngestFiles(context.Background(), []FileInput{
		{Path: missing}, {Path: good}, {Path: empty}, {Path: csv},
	})

	if len(res.Processed) != 1 || res.Processed[0].File != good {
		t.Fatalf("processed = %+v", res.Processed)
	}
	if len(res.Failed) != 3 {
		t.Fatalf("expected 3 failures, got %+v", res.Failed)
	}
	if res.Failed[0].File != missing || res.Failed[1].File != empty || res.Failed[2].File != csv {
		t.Errorf("failures out of input order: %+v", res.Failed)
	}
	if res.Failed[1].Error != ErrNoChunks.Error() {
		t.Errorf("empty file error = %q", res.Failed[1].Error)
	}
	if !strings.Contains(res.Failed[2].Error, "unsupported") {
		t.Errorf("csv error = %q", res.Failed[2].Error)
	}
}

// blockingEmbedder holds every call until its context is done.
type blockingEmbedder struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestIngestFiles_CancelledContextFailsEverything(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", twoPagePolicy)
	b := writeFile(t, dir, "b.txt", twoPagePolicy)
	emb := &trigramEmbedder{}
	in, _ := newTestIngester(t, emb, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := in.IngestFiles(ctx, []FileInput{{Path: a}, {Path: b}})

	if len(res.Processed) != 0 || len(res.Failed) != 2 {
		t.Fatalf("result = %+v", res)
	}
	for _, f := range res.Failed {
		if f.Error != context.Canceled.Error() {
			t.Errorf("%s error = %q", f.File, f.Error)
		}
	}
	if emb.callCount() != 0 {
		t.Errorf("cancelled run embedded %d batches", emb.callCount())
	}
}

func TestIngestFiles_CancelStopsQueueing(t *testing.T) {
	dir := t.TempDir()
	files := []FileInput{
		{Path: writeFile(t, dir, "a.txt", twoPagePolicy)},
		{Path: writeFile(t, dir, "b.txt", twoPagePolicy)},
		{Path: writeFile(t, dir, "c.txt", twoPagePolicy)},
	}
	emb := &blockingEmbedder{started: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	in, store := newTestIngester(t, emb, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- in.IngestFiles(ctx, files) }()

	select {
	case <-emb.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first file never reached the embedder")
	}
	cancel()

	var res Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("IngestFiles did not return after cancel")
	}
	if len(res.Failed) != 3 {
		t.Fatalf("expected every file to fail, got %+v", res)
	}
	for _, f := range res.Failed[1:] {
		if !strings.Contains(f.Error, context.Canceled.Error()) {
			t.Errorf("%s error = %q", f.File, f.Error)
		}
	}
	counts, err := store.CountByDocument(context.Background())
	if err != nil {
		t.Fatalf("CountByDocument: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("nothing should be stored, got %v", counts)
	}
}

func TestIngest_RetriesTransientEmbeddingErrors(t *testing.T) {
	emb := &trigramEmbedder{fail: []error{
		&llm.ProviderError{Provider: "test", Op: "embed", StatusCode: 503},
	}}
	in, _ := newTestIngester(t, emb, testConfig())

	out, err := in.IngestDocument(context.Background(), "policy.txt", []byte(twoPagePolicy), "")
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if out.Chunks != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if emb.callCount() != 2 {
		t.Errorf("expected one retry, got %d calls", emb.callCount())
	}
}

func TestIngest_PermanentEmbeddingErrorStoresNothing(t *testing.T) {
	perr := &llm.ProviderError{Provider: "test", Op: "embed", StatusCode: 401}
	emb := &trigramEmbedder{fail: []error{perr}}
	in, store := newTestIngester(t, emb, testConfig())
	ctx := context.Background()

	_, err := in.IngestDocument(ctx, "policy.txt", []byte(twoPagePolicy), "")
	if !errors.Is(err, perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	counts, _ := store.CountByDocument(ctx)
	if len(counts) != 0 {
		t.Errorf("nothing should be stored, got %v", counts)
	}
}

func TestIngest_BatchesEmbeddings(t *testing.T) {
	emb := &trigramEmbedder{}
	cfg := testConfig()
	cfg.BatchSize = 1
	in, _ := newTestIngester(t, emb, cfg)

	if _, err := in.IngestDocument(context.Background(), "policy.txt", []byte(twoPagePolicy), ""); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if emb.callCount() != 2 {
		t.Errorf("expected one embedding call per chunk, got %d", emb.callCount())
	}
}

func TestStatus_ListsConfiguredDocuments(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.txt", twoPagePolicy)
	in, _ := newTestIngester(t, &trigramEmbedder{}, testConfig(path, filepath.Join(dir, "Rules.pdf")))
	ctx := context.Background()

	st, err := in.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.TotalDocuments != 0 || len(st.PerDocument) != 2 || st.PerDocument[0].Status != "not_loaded" {
		t.Fatalf("empty status = %+v", st)
	}

	in.LoadConfigured(ctx)
	if _, err := in.IngestDocument(ctx, "extra.md", []byte("# Schedule\n\nReports are due quarterly for every regulated entity."), ""); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}

	st, err = in.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.TotalDocuments != 2 || st.TotalChunks != 3 {
		t.Errorf("totals = %d documents, %d chunks", st.TotalDocuments, st.TotalChunks)
	}
	want := []DocumentStatus{
		{Name: "policy.txt", ChunkCount: 2, Status: "loaded"},
		{Name: "Rules.pdf", ChunkCount: 0, Status: "not_loaded"},
		{Name: "extra.md", ChunkCount: 1, Status: "loaded"},
	}
	if len(st.PerDocument) != len(want) {
		t.Fatalf("per document = %+v", st.PerDocument)
	}
	for i := range want {
		if st.PerDocument[i] != want[i] {
			t.Errorf("per_document[%d] = %+v, want %+v", i, st.PerDocument[i], want[i])
		}
	}
}

func TestReload_ReingestsFromScratch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policy.txt", twoPagePolicy)
	in, store := newTestIngester(t, &trigramEmbedder{}, testConfig(path))
	ctx := context.Background()

	in.LoadConfigured(ctx)
	if _, err := in.IngestDocument(ctx, "stale.txt", []byte("Rule 1: this document is no longer configured anywhere."), ""); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}

	res, err := in.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(res.Processed) != 1 || len(res.Skipped) != 0 {
		t.Fatalf("reload result = %+v", res)
	}
	counts, _ := store.CountByDocument(ctx)
	if _, ok := counts["stale.txt"]; ok {
		t.Error("reload should drop documents that are not configured")
	}
	if _, ok := in.ChunkStats()["stale.txt"]; ok {
		t.Error("reload should reset chunk stats")
	}
}

func waitForJob(t *testing.T, o *Orchestrator, id string) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap := o.GetJob(id).Snapshot()
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return JobSnapshot{}
}

func TestOrchestrator_ProcessesUploads(t *testing.T) {
	in, _ := newTestIngester(t, &trigramEmbedder{}, testConfig())
	o := NewOrchestrator(config.Config{WorkerCount: 2, MaxQueueSize: 4, JobTTL: time.Hour}, in, quietLogger())
	o.Start(context.Background())
	defer o.Stop()

	job, err := o.Submit("policy.txt", []byte(twoPagePolicy))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := waitForJob(t, o, job.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("job = %+v", snap)
	}
	if snap.Progress.TotalChunks != 2 || snap.Progress.ChunksEmbedded != 2 {
		t.Errorf("progress = %+v", snap.Progress)
	}

	again, err := o.Submit("policy.txt", []byte(twoPagePolicy))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap := waitForJob(t, o, again.ID); snap.Status != StatusSkipped {
		t.Errorf("re-upload status = %s", snap.Status)
	}

	bad, _ := o.Submit("notes.csv", []byte("a,b"))
	snap = waitForJob(t, o, bad.ID)
	if snap.Status != StatusFailed || len(snap.Progress.Errors) != 1 {
		t.Errorf("bad upload = %+v", snap)
	}

	if len(o.Jobs()) != 3 {
		t.Errorf("expected 3 tracked jobs, got %d", len(o.Jobs()))
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	in, _ := newTestIngester(t, &trigramEmbedder{}, testConfig())
	o := NewOrchestrator(config.Config{WorkerCount: 1, MaxQueueSize: 1, JobTTL: time.Hour}, in, quietLogger())

	if _, err := o.Submit("a.txt", []byte("first")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	job, err := o.Submit("b.txt", []byte("second"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if job.Snapshot().Status != StatusFailed {
		t.Errorf("rejected job status = %s", job.Snapshot().Status)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("queue depth = %d", o.QueueDepth())
	}
}
