package assess

import (
	"fmt"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
	"github.com/dgallion1/regcheck/internal/llm"
)

const SystemPrompt = `You are a strict JSON API. You must ONLY output a single valid JSON object, and nothing else. Do not include any explanation, markdown, or text outside the JSON object. If you do, your output will be rejected.`

const assessmentPreamble = `Analyze this compliance concern against the provided regulatory documents.

CONCERN: %s
CONTEXT: %s

Decide whether the concern is compliant, non_compliant, partial_compliance or requires_review under the regulatory content below. Cite the rules you relied on, describe each finding with its impact level (low, medium, high, critical), and give concrete recommendations. Use requires_review when the content does not settle the question.

RELEVANT REGULATORY CONTENT:
`

const noContext = "No additional context provided"

var blockSeparator = "\n\n" + strings.Repeat("=", 50) + "\n\n"

// ToolName is the function the model is forced to call.
const ToolName = "compliance_assessment"

// AssessmentTool is the schema of the verdict the model returns.
var AssessmentTool = &llm.ToolSchema{
	Name:        ToolName,
	Description: "Return a compliance assessment as a structured JSON object.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{
					string(StatusCompliant),
					string(StatusNonCompliant),
					string(StatusPartialCompliance),
					string(StatusRequiresReview),
				},
			},
			"confidence_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"summary":          map[string]any{"type": "string"},
			"impacted_rules": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"reasoning": map[string]any{"type": "string"},
			"compliance_details": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"rule_reference":  map[string]any{"type": "string"},
						"description":     map[string]any{"type": "string"},
						"impact_level":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
						"required_action": map[string]any{"type": "string"},
						"deadline":        map[string]any{"type": "string"},
					},
				},
			},
			"recommendations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{
			"status", "confidence_score", "summary", "impacted_rules",
			"reasoning", "compliance_details", "recommendations",
		},
	},
}

// BuildPrompt assembles the user prompt. When it would exceed budget
// characters the retrieved content is cut from the end and "..." appended,
// the marker counting toward the budget. The preamble is always kept whole.
func BuildPrompt(concern, extra string, results []document.SearchResult, budget int) string {
	if strings.TrimSpace(extra) == "" {
		extra = noContext
	}
	preamble := fmt.Sprintf(assessmentPreamble, concern, extra)
	content := formatResults(results)

	if budget > 0 {
		room := budget - len([]rune(preamble))
		runes := []rune(content)
		if len(runes) > room {
			room -= len(truncMarker)
			if room < 0 {
				room = 0
			}
			content = string(runes[:room]) + truncMarker
		}
	}
	return preamble + content
}

const truncMarker = "..."

func formatResults(results []document.SearchResult) string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Document %d:\n", i+1)
		fmt.Fprintf(&sb, "Source: %s\n", r.Chunk.DocumentName)
		fmt.Fprintf(&sb, "Page: %d\n", r.Chunk.PageNumber)
		fmt.Fprintf(&sb, "Type: %s\n", r.Chunk.Type)
		fmt.Fprintf(&sb, "Relevance Score: %.2f\n", r.Similarity)
		fmt.Fprintf(&sb, "Content: %s", r.Chunk.Content)
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, blockSeparator)
}
