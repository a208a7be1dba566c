package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/regcheck/internal/document"
)

// Config controls chunking behavior. All sizes are measured in characters.
type Config struct {
	ChunkSize    int // Target maximum chunk size.
	ChunkOverlap int // Characters carried from the end of one chunk into the next.
	MinChunk     int // Chunks shorter than this after cleaning are dropped.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunk:     50,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = d.ChunkOverlap
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.MinChunk <= 0 {
		c.MinChunk = d.MinChunk
	}
	return c
}

// bodyLimit is the room left for new text once the overlap tail is prepended.
func (c Config) bodyLimit() int {
	if n := c.ChunkSize - c.ChunkOverlap; n > 1 {
		return n
	}
	return 2
}

// ChunkSource chunks every extracted page of a source document.
func ChunkSource(src *document.Source, contentHash string, cfg Config) []document.Chunk {
	return Chunk(src.Name, contentHash, src.PageText(), cfg)
}

// Chunk turns per-page raw text into ordered, classified chunks.
// The same input always yields the same boundaries, ids and types. A chunk
// repeating an earlier one on the same page is dropped, so ids are unique
// within the result.
func Chunk(documentName, contentHash string, pages map[int]string, cfg Config) []document.Chunk {
	cfg = cfg.normalized()

	text := joinPages(pages)
	if text == "" {
		return nil
	}

	bodies := attachMarkers(splitRecursive(text, separators, cfg.bodyLimit()))

	var chunks []document.Chunk
	seen := make(map[string]bool)
	page := 1
	prev := ""
	for _, body := range bodies {
		raw := body
		if prev != "" && cfg.ChunkOverlap > 0 {
			raw = overlapTail(prev, cfg.ChunkOverlap) + " " + body
		}
		prev = raw

		var bodyPage int
		bodyPage, page = pageOf(body, page)

		content := stripMarkers(raw)
		if utf8.RuneCountInString(content) < cfg.MinChunk {
			continue
		}

		id := ChunkID(documentName, bodyPage, content)
		if seen[id] {
			continue
		}
		seen[id] = true

		chunks = append(chunks, document.Chunk{
			ID:           id,
			DocumentName: documentName,
			PageNumber:   bodyPage,
			Index:        len(chunks),
			Content:      content,
			Type:         Classify(content),
			CharCount:    utf8.RuneCountInString(content),
			WordCount:    len(strings.Fields(content)),
			ContentHash:  contentHash,
		})
	}

	return chunks
}

// ChunkID derives a stable id from the document, page and content.
func ChunkID(documentName string, page int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s_%d_%s", documentName, page, hex.EncodeToString(sum[:])[:12])
}

// joinPages cleans each page and concatenates them behind page markers.
func joinPages(pages map[int]string) string {
	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var parts []string
	for _, n := range numbers {
		text := cleanPage(pages[n])
		if text == "" {
			continue
		}
		if n < 1 {
			n = 1
		}
		parts = append(parts, pageMarker(n)+"\n"+text)
	}
	return strings.Join(parts, "\n\n")
}

func pageMarker(n int) string {
	return "[PAGE " + strconv.Itoa(n) + "]"
}

// attachMarkers folds bodies holding nothing but page markers into the body
// that follows them.
func attachMarkers(bodies []string) []string {
	out := make([]string, 0, len(bodies))
	pending := ""
	for _, b := range bodies {
		if stripMarkers(b) == "" {
			pending += b + "\n"
			continue
		}
		out = append(out, pending+b)
		pending = ""
	}
	return out
}

// pageOf returns the page a body belongs to and the page in effect after it.
func pageOf(body string, current int) (page, next int) {
	locs := markerRe.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return current, current
	}
	page = current
	if strings.TrimSpace(body[:locs[0][0]]) == "" {
		page = markerPage(body, locs[0])
	}
	return page, markerPage(body, locs[len(locs)-1])
}

func markerPage(s string, loc []int) int {
	n, err := strconv.Atoi(s[loc[2]:loc[3]])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
