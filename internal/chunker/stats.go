package chunker

import "github.com/dgallion1/regcheck/internal/document"

// Stats summarizes a set of chunks.
type Stats struct {
	TotalChunks  int                        `json:"total_chunks"`
	ByType       map[document.ChunkType]int `json:"by_type"`
	ByPage       map[int]int                `json:"by_page"`
	AvgChars     float64                    `json:"avg_chars"`
	MinChars     int                        `json:"min_chars"`
	MaxChars     int                        `json:"max_chars"`
	ApproxTokens int                        `json:"approx_tokens"`
}

func ComputeStats(chunks []document.Chunk) Stats {
	s := Stats{
		ByType: make(map[document.ChunkType]int),
		ByPage: make(map[int]int),
	}
	if len(chunks) == 0 {
		return s
	}
	s.TotalChunks = len(chunks)
	s.MinChars = chunks[0].CharCount
	total := 0
	for _, c := range chunks {
		s.ByType[c.Type]++
		s.ByPage[c.PageNumber]++
		total += c.CharCount
		if c.CharCount < s.MinChars {
			s.MinChars = c.CharCount
		}
		if c.CharCount > s.MaxChars {
			s.MaxChars = c.CharCount
		}
		s.ApproxTokens += EstimateTokens(c.Content)
	}
	s.AvgChars = float64(total) / float64(len(chunks))
	return s
}
