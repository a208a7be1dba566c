package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// separators run from coarse to fine. The empty separator splits runes.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// splitRecursive splits text into bodies no longer than limit, falling back
// to finer separators only for pieces that are still too large.
func splitRecursive(text string, seps []string, limit int) []string {
	sep := seps[len(seps)-1]
	var finer []string
	for i, s := range seps {
		if s == "" {
			sep = ""
			break
		}
		if strings.Contains(text, s) {
			sep = s
			finer = seps[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) < limit {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, merge(small, limit)...)
			small = nil
		}
		if len(finer) == 0 {
			out = append(out, strings.TrimSpace(piece))
		} else {
			out = append(out, splitRecursive(piece, finer, limit)...)
		}
	}
	if len(small) > 0 {
		out = append(out, merge(small, limit)...)
	}
	return out
}

// splitKeep splits on sep, leaving sep attached to the end of each piece.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	var out []string
	for _, p := range strings.SplitAfter(text, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge packs consecutive pieces greedily into bodies of at most limit runes.
func merge(pieces []string, limit int) []string {
	var out []string
	var cur strings.Builder
	n := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		n = 0
	}
	for _, p := range pieces {
		l := utf8.RuneCountInString(p)
		if n > 0 && n+l > limit {
			flush()
		}
		cur.WriteString(p)
		n += l
	}
	flush()
	return out
}

// overlapTail returns the end of prev that the next chunk repeats. It holds
// at least overlap characters of marker-free text, or all of prev when prev
// is shorter. The start is moved back to a sentence or word boundary when
// one lies within half the overlap, and never lands inside a page marker.
func overlapTail(prev string, overlap int) string {
	if visibleLen(prev) <= overlap {
		return prev
	}
	r := []rune(prev)
	spans := markerSpans(prev)
	start := len(r) - overlap
	for {
		start = snapStart(r, start, overlap/2)
		start = outsideMarker(spans, start)
		tail := string(r[start:])
		got := visibleLen(tail)
		if got >= overlap || start == 0 {
			return tail
		}
		start -= overlap - got
		if start < 0 {
			start = 0
		}
	}
}

func visibleLen(s string) int {
	return utf8.RuneCountInString(stripMarkers(s))
}

// snapStart moves start back to a sentence start, else a word start, looking
// at most slack runes behind it.
func snapStart(r []rune, start, slack int) int {
	if start <= 0 {
		return 0
	}
	floor := start - slack
	if floor < 0 {
		floor = 0
	}
	for j := start; j >= floor; j-- {
		if sentenceStart(r, j) {
			return j
		}
	}
	for j := start; j >= floor; j-- {
		if j == 0 || unicode.IsSpace(r[j-1]) {
			return j
		}
	}
	return start
}

func sentenceStart(r []rune, j int) bool {
	if j == 0 {
		return true
	}
	if r[j-1] == '\n' {
		return true
	}
	if j < 2 || r[j-1] != ' ' {
		return false
	}
	switch r[j-2] {
	case '.', '?', '!':
		return true
	}
	return false
}

// markerSpans returns the rune ranges of page markers in s.
func markerSpans(s string) [][2]int {
	locs := markerRe.FindAllStringIndex(s, -1)
	spans := make([][2]int, 0, len(locs))
	for _, loc := range locs {
		spans = append(spans, [2]int{
			utf8.RuneCountInString(s[:loc[0]]),
			utf8.RuneCountInString(s[:loc[1]]),
		})
	}
	return spans
}

func outsideMarker(spans [][2]int, start int) int {
	for _, sp := range spans {
		if start > sp[0] && start < sp[1] {
			return sp[0]
		}
	}
	return start
}
