package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/regcheck/internal/app"
	"github.com/dgallion1/regcheck/internal/assess"
	"github.com/dgallion1/regcheck/internal/chunker"
	"github.com/dgallion1/regcheck/internal/config"
	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/pipeline"
	"github.com/dgallion1/regcheck/internal/retriever"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

const policyText = "Section 4: Data must be encrypted at rest and in transit using approved algorithms.\n" +
	"\fExample: see case study A for an illustration of a retail bank onboarding flow.\n"

// wordEmbedder maps each lowercased word to one of a few buckets.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 32)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			var h uint32
			for _, c := range w {
				h = h*31 + uint32(c)
			}
			v[h%32]++
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

type stubCompleter struct {
	args string
}

func (s stubCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	return &llm.Completion{Arguments: json.RawMessage(s.args), Model: "test-model"}, nil
}

const verdictArgs = `{
	"status": "partial",
	"confidence_score": 0.8,
	"summary": "Encryption in transit is missing.",
	"impacted_rules": ["Section 4"],
	"reasoning": "Section 4 requires encryption in transit.",
	"compliance_details": [{"rule_reference": "Section 4", "description": "No TLS", "impact_level": "high"}],
	"recommendations": ["Enable TLS"]
}`

type testEnv struct {
	srv     *Server
	app     *app.App
	docPath string
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "policy.txt")
	if err := os.WriteFile(docPath, []byte(policyText), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	store, err := vectorstore.OpenSQLite(filepath.Join(dir, "chunks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		APIKey:          apiKey,
		DocumentPaths:   []string{docPath, filepath.Join(dir, "Rules.pdf")},
		CompletionModel: "test-model",
		EmbeddingModel:  "test-embed",
		WorkerCount:     1,
		MaxQueueSize:    4,
		MaxUploadBytes:  1 << 20,
		JobTTL:          time.Hour,
	}

	usage := llm.NewUsage(time.Hour)
	emb := llm.TimeEmbedder(wordEmbedder{}, usage.Embedding)
	ret := retriever.New(emb, store, 5, log)
	ingester := pipeline.NewIngester(store, emb, pipeline.IngestConfig{
		Chunk:         chunker.Config{ChunkSize: 100, ChunkOverlap: 10, MinChunk: 20},
		DocumentPaths: cfg.DocumentPaths,
	}, nil, log)
	orch := pipeline.NewOrchestrator(cfg, ingester, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	a := &app.App{
		Config:       cfg,
		Store:        store,
		Usage:        usage,
		Retriever:    ret,
		Assessor:     assess.New(ret, llm.TimeCompleter(stubCompleter{args: verdictArgs}, usage.Completion), assess.DefaultConfig(), nil, log),
		Ingester:     ingester,
		Orchestrator: orch,
	}
	return &testEnv{srv: NewServer(a, log), app: a, docPath: docPath}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret")
	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" || body["vector_db"] != "connected" {
		t.Errorf("body = %v", body)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	if rec := env.do(t, http.MethodGet, "/api/v1/documents/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/documents/status", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/documents/status", "", "secret"); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", rec.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	env := newTestEnv(t, "")
	if rec := env.do(t, http.MethodGet, "/api/v1/documents/status", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDocumentStatusAndReload(t *testing.T) {
	env := newTestEnv(t, "")

	var st pipeline.Status
	decode(t, env.do(t, http.MethodGet, "/api/v1/documents/status", "", ""), &st)
	if st.TotalChunks != 0 || len(st.PerDocument) != 2 || st.PerDocument[0].Status != "not_loaded" {
		t.Fatalf("initial status = %+v", st)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/documents/reload", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d: %s", rec.Code, rec.Body.String())
	}
	var reload struct {
		Message string          `json:"message"`
		Result  pipeline.Result `json:"result"`
	}
	decode(t, rec, &reload)
	if reload.Message != "Documents reloaded successfully" {
		t.Errorf("message = %q", reload.Message)
	}
	if len(reload.Result.Processed) != 1 || len(reload.Result.Failed) != 1 {
		t.Errorf("reload result = %+v", reload.Result)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/documents/status", "", ""), &st)
	if st.TotalDocuments != 1 || st.TotalChunks != 2 {
		t.Errorf("status after reload = %+v", st)
	}
	if st.PerDocument[0].Name != "policy.txt" || st.PerDocument[0].Status != "loaded" {
		t.Errorf("policy entry = %+v", st.PerDocument[0])
	}
}

func TestComplianceCheck(t *testing.T) {
	env := newTestEnv(t, "")
	env.app.Ingester.LoadConfigured(context.Background())

	rec := env.do(t, http.MethodPost, "/api/v1/compliance/check",
		`{"concern":"We store customer data unencrypted in transit","context":"retail bank"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var v assess.Verdict
	decode(t, rec, &v)
	if v.Status != assess.StatusPartialCompliance {
		t.Errorf("status = %s", v.Status)
	}
	if v.Confidence != 0.8 {
		t.Errorf("confidence = %v", v.Confidence)
	}
	if len(v.RelevantDocuments) != 2 {
		t.Errorf("expected both chunks as evidence, got %d", len(v.RelevantDocuments))
	}

	var stats struct {
		Model string            `json:"model"`
		Stats llm.StatsSnapshot `json:"stats"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/stats/llm", "", ""), &stats)
	if stats.Model != "test-model" || stats.Stats.Count != 1 {
		t.Errorf("llm stats = %+v", stats)
	}
}

func TestComplianceCheck_BadRequest(t *testing.T) {
	env := newTestEnv(t, "")
	for _, body := range []string{`{"concern":""}`, `not json`} {
		if rec := env.do(t, http.MethodPost, "/api/v1/compliance/check", body, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, rec.Code)
		}
	}
}

func TestDebugChunks(t *testing.T) {
	env := newTestEnv(t, "")
	env.app.Ingester.LoadConfigured(context.Background())

	rec := env.do(t, http.MethodPost, "/api/v1/debug/chunks", `{"query":"encrypted at rest","k":1}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Chunks []debugChunk `json:"chunks"`
	}
	decode(t, rec, &body)
	if len(body.Chunks) != 1 || body.Chunks[0].Rank != 1 || body.Chunks[0].DocumentName != "policy.txt" {
		t.Errorf("chunks = %+v", body.Chunks)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/debug/chunks", `{"k":3}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d", rec.Code)
	}

	var stats struct {
		Documents map[string]chunker.Stats `json:"documents"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/debug/stats", "", ""), &stats)
	if stats.Documents["policy.txt"].TotalChunks != 2 {
		t.Errorf("chunk stats = %+v", stats.Documents)
	}
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIngestUpload(t *testing.T) {
	env := newTestEnv(t, "")

	body, ctype := multipartUpload(t, "upload.txt", []byte(policyText))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/ingest", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		JobID   string `json:"job_id"`
		PollURL string `json:"poll_url"`
	}
	decode(t, rec, &accepted)
	if accepted.PollURL != "/api/v1/documents/ingest/"+accepted.JobID {
		t.Errorf("poll_url = %q", accepted.PollURL)
	}

	var snap pipeline.JobSnapshot
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		decode(t, env.do(t, http.MethodGet, accepted.PollURL, "", ""), &snap)
		if snap.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.Status != pipeline.StatusCompleted || snap.Progress.TotalChunks != 2 {
		t.Fatalf("job = %+v", snap)
	}

	var jobs struct {
		Jobs []pipeline.JobSnapshot `json:"jobs"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/documents/jobs", "", ""), &jobs)
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].ID != accepted.JobID {
		t.Errorf("jobs = %+v", jobs.Jobs)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/documents/ingest/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d", rec.Code)
	}
}

func TestIngestUpload_Rejects(t *testing.T) {
	env := newTestEnv(t, "")

	body, ctype := multipartUpload(t, "data.csv", []byte("a,b"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/ingest", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported type: status = %d", rec.Code)
	}

	big := bytes.Repeat([]byte("a"), int(env.app.Config.MaxUploadBytes)+1)
	body, ctype = multipartUpload(t, "big.txt", big)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/ingest", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload: status = %d", rec.Code)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"policy.pdf":            "policy.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\Rules.pdf`: "Rules.pdf",
		"":                      "unnamed",
		"a..b.txt":              "a_b.txt",
		"/":                     "unnamed",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "secret")
	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected default collectors in /metrics output")
	}
}
