package document

import (
	"fmt"
	"sort"
)

// ChunkType tags a chunk with the kind of regulatory content it holds.
// It only steers retrieval priority.
type ChunkType string

const (
	TypeRegulatoryRule ChunkType = "regulatory_rule"
	TypeProcedure      ChunkType = "procedure"
	TypeRequirement    ChunkType = "requirement"
	TypeDefinition     ChunkType = "definition"
	TypeExample        ChunkType = "example"
	TypeSchedule       ChunkType = "schedule"
	TypeGeneral        ChunkType = "general"
)

// ChunkTypes lists every type in classification priority order, general last.
var ChunkTypes = []ChunkType{
	TypeRegulatoryRule,
	TypeProcedure,
	TypeRequirement,
	TypeDefinition,
	TypeExample,
	TypeSchedule,
	TypeGeneral,
}

// ParseChunkType maps a string onto the closed set of chunk types.
func ParseChunkType(s string) (ChunkType, error) {
	for _, t := range ChunkTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown chunk type %q", s)
}

// Source is the per-page text extracted from one document.
type Source struct {
	Name       string // Base file name
	Pages      []Page // Ordered by page number
	PageErrors []error
}

// Page is the raw text of a single page. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// PageText returns the pages keyed by page number.
func (s *Source) PageText() map[int]string {
	out := make(map[int]string, len(s.Pages))
	for _, p := range s.Pages {
		out[p.Number] = p.Text
	}
	return out
}

// SortPages orders pages by number.
func (s *Source) SortPages() {
	sort.SliceStable(s.Pages, func(i, j int) bool { return s.Pages[i].Number < s.Pages[j].Number })
}

// ExtractionError reports a page whose text could not be extracted.
// The page is skipped; the rest of the document is still processed.
type ExtractionError struct {
	Document string
	Page     int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s page %d: %v", e.Document, e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Chunk is a retrievable unit of document text.
type Chunk struct {
	ID           string    `json:"chunk_id"`
	DocumentName string    `json:"document_name"`
	PageNumber   int       `json:"page_number"`
	Index        int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Type         ChunkType `json:"chunk_type"`
	CharCount    int       `json:"char_count"`
	WordCount    int       `json:"word_count"`
	ContentHash  string    `json:"content_hash"` // digest of the source file bytes
}

// Validate checks the invariants every stored chunk must hold.
func (c Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chunk: empty id")
	}
	if c.DocumentName == "" {
		return fmt.Errorf("chunk %s: empty document name", c.ID)
	}
	if c.Content == "" {
		return fmt.Errorf("chunk %s: empty content", c.ID)
	}
	if c.PageNumber < 1 {
		return fmt.Errorf("chunk %s: page %d out of range", c.ID, c.PageNumber)
	}
	if _, err := ParseChunkType(string(c.Type)); err != nil {
		return fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	return nil
}

// SearchResult is one hit of a similarity query.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity_score"`
	Distance   float64 `json:"distance"`
}

// NewSearchResult derives the distance from the similarity.
func NewSearchResult(c Chunk, similarity float64) SearchResult {
	return SearchResult{Chunk: c, Similarity: similarity, Distance: 1 - similarity}
}
