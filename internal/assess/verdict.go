package assess

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/regcheck/internal/document"
)

type Status string

const (
	StatusCompliant         Status = "compliant"
	StatusNonCompliant      Status = "non_compliant"
	StatusPartialCompliance Status = "partial_compliance"
	StatusRequiresReview    Status = "requires_review"
)

var statusAliases = map[string]Status{
	"compliant":           StatusCompliant,
	"non_compliant":       StatusNonCompliant,
	"noncompliant":        StatusNonCompliant,
	"not_compliant":       StatusNonCompliant,
	"partial_compliance":  StatusPartialCompliance,
	"partial":             StatusPartialCompliance,
	"partially_compliant": StatusPartialCompliance,
	"requires_review":     StatusRequiresReview,
	"needs_review":        StatusRequiresReview,
	"review_required":     StatusRequiresReview,
}

// NormalizeStatus folds case, hyphens and spaces and maps known aliases.
// Anything unrecognized is requires_review.
func NormalizeStatus(s string) Status {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if st, ok := statusAliases[key]; ok {
		return st
	}
	return StatusRequiresReview
}

var impactLevels = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// Detail is one rule-level finding.
type Detail struct {
	RuleReference  string `json:"rule_reference"`
	Description    string `json:"description"`
	ImpactLevel    string `json:"impact_level"`
	RequiredAction string `json:"required_action,omitempty"`
	Deadline       string `json:"deadline,omitempty"`
}

// RelevantDocument is evidence taken from the retrieved chunks, never from
// the model output.
type RelevantDocument struct {
	DocumentName   string  `json:"document_name"`
	Section        string  `json:"section"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Verdict is the result of one assessment. It is built once and not
// modified after Assess returns it.
type Verdict struct {
	Status            Status             `json:"status"`
	Confidence        float64            `json:"confidence_score"`
	Summary           string             `json:"summary"`
	ImpactedRules     []string           `json:"impacted_rules"`
	ComplianceDetails []Detail           `json:"compliance_details"`
	RelevantDocuments []RelevantDocument `json:"relevant_documents"`
	Reasoning         string             `json:"reasoning"`
	Recommendations   []string           `json:"recommendations"`
	QueryTimestamp    time.Time          `json:"query_timestamp"`
	ProcessingTimeMs  int64              `json:"processing_time_ms"`
}

// ParseError means the model gave no usable structured arguments.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse verdict: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a field that had to be replaced by its default.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// payload is the decoded tool output. Every field stays untyped so one
// sloppy field is defaulted on its own instead of discarding the answer.
type payload struct {
	Status            any `json:"status"`
	ConfidenceScore   any `json:"confidence_score"`
	Summary           any `json:"summary"`
	ImpactedRules     any `json:"impacted_rules"`
	Reasoning         any `json:"reasoning"`
	ComplianceDetails any `json:"compliance_details"`
	Recommendations   any `json:"recommendations"`
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// parseArguments decodes tool arguments into a payload.
func parseArguments(raw []byte) (*payload, error) {
	text := stripCodeBlock(string(raw))
	if text == "" {
		return nil, &ParseError{Err: fmt.Errorf("no structured arguments")}
	}
	var p payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		// Only reached when the arguments are not a JSON object at all.
		return nil, &ParseError{Raw: text, Err: err}
	}
	return &p, nil
}

const fallbackSummary = "Compliance analysis completed (fallback parsing)"

// fallbackPayload infers a verdict from free text by keyword.
func fallbackPayload(text string) *payload {
	lower := strings.ToLower(text)
	status := StatusRequiresReview
	switch {
	case strings.Contains(lower, "non-compliant"), strings.Contains(lower, "non compliant"),
		strings.Contains(lower, "non_compliant"), strings.Contains(lower, "not compliant"):
		status = StatusNonCompliant
	case strings.Contains(lower, "compliant"):
		status = StatusCompliant
	case strings.Contains(lower, "partial"):
		status = StatusPartialCompliance
	}
	return &payload{
		Status:          string(status),
		ConfidenceScore: 0.5,
		Summary:         fallbackSummary,
		Reasoning:       text,
	}
}

// coerceConfidence accepts numbers and numeric strings and clamps to [0,1].
// A missing value is 0.5 without error.
func coerceConfidence(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0.5, nil
	case float64:
		f = x
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0.5, err
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0.5, err
		}
		f = n
	default:
		return 0.5, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) {
		return 0.5, fmt.Errorf("not a number")
	}
	return math.Max(0, math.Min(1, f)), nil
}

func normalizeImpact(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if impactLevels[s] {
		return s
	}
	return "medium"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// fieldCoercer collects a ValidationError for every field it has to default.
type fieldCoercer struct {
	problems []error
}

func (c *fieldCoercer) invalid(field string, v any, err error) {
	c.problems = append(c.problems, &ValidationError{Field: field, Value: v, Err: err})
}

// text accepts strings and renders numbers and booleans. Anything else is
// defaulted to "".
func (c *fieldCoercer) text(field string, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		c.invalid(field, v, fmt.Errorf("not a string"))
		return ""
	}
}

// list accepts an array of strings or a single string. Blank entries are
// dropped and the result is never nil.
func (c *fieldCoercer) list(field string, v any) []string {
	out := []string{}
	var items []any
	switch x := v.(type) {
	case nil:
		return out
	case string:
		items = []any{x}
	case []any:
		items = x
	default:
		c.invalid(field, v, fmt.Errorf("not a list"))
		return out
	}
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			c.invalid(fmt.Sprintf("%s[%d]", field, i), item, fmt.Errorf("not a string"))
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *fieldCoercer) details(v any) []Detail {
	out := []Detail{}
	var items []any
	switch x := v.(type) {
	case nil:
		return out
	case []any:
		items = x
	case map[string]any:
		items = []any{x}
	default:
		c.invalid("compliance_details", v, fmt.Errorf("not a list"))
		return out
	}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			c.invalid(fmt.Sprintf("compliance_details[%d]", i), item, fmt.Errorf("not an object"))
			continue
		}
		field := func(name string) string {
			return c.text(fmt.Sprintf("compliance_details[%d].%s", i, name), m[name])
		}
		out = append(out, Detail{
			RuleReference:  orDefault(field("rule_reference"), "Unknown"),
			Description:    orDefault(field("description"), "No description provided"),
			ImpactLevel:    normalizeImpact(field("impact_level")),
			RequiredAction: strings.TrimSpace(field("required_action")),
			Deadline:       strings.TrimSpace(field("deadline")),
		})
	}
	return out
}

// buildVerdict normalizes p into a Verdict. Coercion problems are returned
// for logging; the verdict always carries usable defaults.
func buildVerdict(p *payload, results []document.SearchResult, excerptChars int) (*Verdict, []error) {
	c := &fieldCoercer{}

	status := StatusRequiresReview
	switch s := p.Status.(type) {
	case string:
		status = NormalizeStatus(s)
	case nil:
	default:
		c.invalid("status", s, fmt.Errorf("not a string"))
	}

	conf, err := coerceConfidence(p.ConfidenceScore)
	if err != nil {
		c.invalid("confidence_score", p.ConfidenceScore, err)
	}

	v := &Verdict{
		Status:            status,
		Confidence:        conf,
		Summary:           orDefault(c.text("summary", p.Summary), "Compliance analysis completed"),
		ImpactedRules:     c.list("impacted_rules", p.ImpactedRules),
		ComplianceDetails: c.details(p.ComplianceDetails),
		RelevantDocuments: relevantDocuments(results, excerptChars),
		Reasoning:         orDefault(c.text("reasoning", p.Reasoning), "No specific reasoning provided"),
		Recommendations:   c.list("recommendations", p.Recommendations),
	}
	return v, c.problems
}

func relevantDocuments(results []document.SearchResult, excerptChars int) []RelevantDocument {
	out := make([]RelevantDocument, 0, len(results))
	for _, r := range results {
		out = append(out, RelevantDocument{
			DocumentName:   r.Chunk.DocumentName,
			Section:        fmt.Sprintf("Page %d", r.Chunk.PageNumber),
			Content:        excerpt(r.Chunk.Content, excerptChars),
			RelevanceScore: r.Similarity,
		})
	}
	return out
}

// excerpt cuts s to n characters and marks the cut with "...".
func excerpt(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// failedVerdict is the response for any assessment that could not finish.
func failedVerdict(err error) *Verdict {
	return &Verdict{
		Status:            StatusRequiresReview,
		Confidence:        0,
		Summary:           fmt.Sprintf("Error processing compliance check: %v", err),
		ImpactedRules:     []string{},
		ComplianceDetails: []Detail{},
		RelevantDocuments: []RelevantDocument{},
		Reasoning:         "An error occurred during processing. Please try again.",
		Recommendations:   []string{},
	}
}
