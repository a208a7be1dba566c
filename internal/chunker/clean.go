package chunker

import (
	"regexp"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
)

var (
	// RE2 \s is ASCII only; \p{Z} covers no-break and thin spaces.
	whitespaceRe = regexp.MustCompile(`[\s\p{Z}\x{85}]+`)
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s.,;:!?()\-%/§']`)
	markerRe     = regexp.MustCompile(`\[PAGE (\d+)\]\n?`)
)

// cleanPage collapses whitespace and drops characters outside the allow-set.
func cleanPage(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = disallowedRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func stripMarkers(text string) string {
	return strings.TrimSpace(markerRe.ReplaceAllString(text, ""))
}

// keywordSets is checked in order; the first set with a hit wins.
var keywordSets = []struct {
	typ      document.ChunkType
	keywords []string
}{
	{document.TypeRegulatoryRule, []string{"section", "article", "rule", "regulation"}},
	{document.TypeProcedure, []string{"procedure", "process", "step", "method"}},
	{document.TypeRequirement, []string{"requirement", "must", "shall", "mandatory"}},
	{document.TypeDefinition, []string{"definition", "means", "defined as"}},
	{document.TypeExample, []string{"example", "instance", "case study"}},
	{document.TypeSchedule, []string{"schedule", "timeline", "deadline", "date"}},
}

// Classify assigns a chunk type by keyword match on the lowercased content.
func Classify(content string) document.ChunkType {
	lower := strings.ToLower(content)
	for _, set := range keywordSets {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.typ
			}
		}
	}
	return document.TypeGeneral
}
