package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	failed     bool
}

// StatsSnapshot is a point-in-time aggregate of LLM latency samples.
type StatsSnapshot struct {
	Count  int     `json:"count"`
	Errors int     `json:"errors"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// LLMStats tracks recent LLM call latencies within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

func (s *LLMStats) Record(durationMs int64) {
	s.record(durationMs, false)
}

// RecordFailure counts a call that returned an error.
func (s *LLMStats) RecordFailure(durationMs int64) {
	s.record(durationMs, true)
}

func (s *LLMStats) record(durationMs int64, failed bool) {
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: durationMs,
		failed:     failed,
	})
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if len(s.samples) == 0 {
		return StatsSnapshot{}
	}

	values := make([]int64, 0, len(s.samples))
	var sum int64
	errs := 0
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		if sm.failed {
			errs++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count:  len(values),
		Errors: errs,
		MinMs:  values[0],
		MaxMs:  values[len(values)-1],
		AvgMs:  float64(sum) / float64(len(values)),
		P50Ms:  percentile(values, 50),
		P95Ms:  percentile(values, 95),
		P99Ms:  percentile(values, 99),
	}
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	if lower == upper {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}

// Usage holds the rolling stats for each kind of model call.
type Usage struct {
	Completion *LLMStats
	Embedding  *LLMStats
}

func NewUsage(maxAge time.Duration) *Usage {
	return &Usage{
		Completion: NewLLMStats(maxAge),
		Embedding:  NewLLMStats(maxAge),
	}
}

type UsageSnapshot struct {
	Completion StatsSnapshot `json:"completion"`
	Embedding  StatsSnapshot `json:"embedding"`
}

func (u *Usage) Snapshot() UsageSnapshot {
	return UsageSnapshot{
		Completion: u.Completion.Snapshot(),
		Embedding:  u.Embedding.Snapshot(),
	}
}

func observe(stats *LLMStats, start time.Time, err error) {
	ms := time.Since(start).Milliseconds()
	if err != nil {
		stats.RecordFailure(ms)
		return
	}
	stats.Record(ms)
}

type timedCompleter struct {
	next  Completer
	stats *LLMStats
}

// TimeCompleter records the latency of every call to c.
func TimeCompleter(c Completer, stats *LLMStats) Completer {
	return &timedCompleter{next: c, stats: stats}
}

func (t *timedCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	start := time.Now()
	out, err := t.next.Complete(ctx, req)
	observe(t.stats, start, err)
	return out, err
}

type timedEmbedder struct {
	next  Embedder
	stats *LLMStats
}

// TimeEmbedder records the latency of every call to e.
func TimeEmbedder(e Embedder, stats *LLMStats) Embedder {
	return &timedEmbedder{next: e, stats: stats}
}

func (t *timedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := t.next.Embed(ctx, texts)
	observe(t.stats, start, err)
	return out, err
}
