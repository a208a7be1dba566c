// Package assess answers a compliance concern with a verdict grounded in
// retrieved regulatory content.
package assess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/regcheck/internal/document"
	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/metrics"
	"github.com/dgallion1/regcheck/internal/retriever"
)

// State is the stage an assessment is in.
type State string

const (
	StateRetrieving State = "RETRIEVING"
	StateGenerating State = "GENERATING"
	StateParsing    State = "PARSING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// PreferredTypes are ranked first when retrieving evidence.
var PreferredTypes = []document.ChunkType{
	document.TypeRegulatoryRule,
	document.TypeRequirement,
	document.TypeProcedure,
	document.TypeSchedule,
}

type Request struct {
	Concern string `json:"concern"`
	Context string `json:"context,omitempty"`
}

// Retriever is the part of retriever.Retriever the assessor needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retriever.Options) ([]document.SearchResult, error)
}

type Config struct {
	K            int
	PromptBudget int
	ExcerptChars int
	Temperature  float64
	MaxTokens    int
}

func DefaultConfig() Config {
	return Config{
		K:            10,
		PromptBudget: 8000,
		ExcerptChars: 500,
		Temperature:  0.1,
		MaxTokens:    1500,
	}
}

type Assessor struct {
	retriever Retriever
	completer llm.Completer
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	onState   func(State)
}

func New(r Retriever, c llm.Completer, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Assessor {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = def.PromptBudget
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = def.ExcerptChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		retriever: r,
		completer: c,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Assess runs one concern through retrieval, generation and parsing.
// It never fails: any error or panic yields a requires_review verdict
// with zero confidence.
func (a *Assessor) Assess(ctx context.Context, req Request) (v *Verdict) {
	start := a.now()
	log := a.logger.With("concern_len", len([]rune(req.Concern)))
	var state State
	enter := func(s State) {
		state = s
		if a.onState != nil {
			a.onState(s)
		}
	}

	fail := func(err error) {
		log.Error("assessment failed", "state", state, "error", err)
		enter(StateFailed)
		v = failedVerdict(err)
		v.QueryTimestamp = start
		v.ProcessingTimeMs = a.now().Sub(start).Milliseconds()
		a.metrics.RecordAssessment(string(v.Status), true, a.now().Sub(start))
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	enter(StateRetrieving)
	if strings.TrimSpace(req.Concern) == "" {
		fail(fmt.Errorf("concern is empty"))
		return v
	}

	query := strings.TrimSpace(req.Concern + " " + req.Context)
	results, err := a.retriever.Retrieve(ctx, query, retriever.Options{
		K:              a.cfg.K,
		PreferredTypes: PreferredTypes,
	})
	if err != nil {
		fail(fmt.Errorf("retrieve: %w", err))
		return v
	}
	log.Debug("retrieved evidence", "results", len(results))

	enter(StateGenerating)
	prompt := BuildPrompt(req.Concern, req.Context, results, a.cfg.PromptBudget)
	completion, err := a.completer.Complete(ctx, llm.CompletionRequest{
		System:      SystemPrompt,
		Prompt:      prompt,
		Tool:        AssessmentTool,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		fail(fmt.Errorf("generate: %w", err))
		return v
	}
	if completion == nil {
		fail(fmt.Errorf("generate: empty completion"))
		return v
	}

	enter(StateParsing)
	p := a.parse(completion, log)
	verdict, problems := buildVerdict(p, results, a.cfg.ExcerptChars)
	for _, prob := range problems {
		log.Warn("verdict field defaulted", "error", prob)
	}

	enter(StateDone)
	elapsed := a.now().Sub(start)
	verdict.QueryTimestamp = start
	verdict.ProcessingTimeMs = elapsed.Milliseconds()
	a.metrics.RecordAssessment(string(verdict.Status), false, elapsed)
	log.Info("assessment complete",
		"status", verdict.Status,
		"confidence", verdict.Confidence,
		"evidence", len(verdict.RelevantDocuments),
		"elapsed_ms", verdict.ProcessingTimeMs,
	)
	return verdict
}

// parse prefers the tool arguments and falls back to keyword inference
// over the raw text.
func (a *Assessor) parse(c *llm.Completion, log *slog.Logger) *payload {
	if c.Structured() {
		p, err := parseArguments(c.Arguments)
		if err == nil {
			return p
		}
		log.Warn("structured output unusable, using fallback", "error", err)
	} else {
		log.Warn("model answered without tool call, using fallback")
	}
	raw := c.Text
	if strings.TrimSpace(raw) == "" {
		raw = string(c.Arguments)
	}
	return fallbackPayload(raw)
}
