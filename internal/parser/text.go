package parser

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
)

// TextParser handles plain text files. Form feeds start a new page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*document.Source, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	src := &document.Source{Name: filepath.Base(filename)}
	page := 1
	var current strings.Builder

	flush := func() {
		if t := strings.TrimSpace(current.String()); t != "" {
			src.Pages = append(src.Pages, document.Page{Number: page, Text: t})
		}
		current.Reset()
	}

	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\f")
		for i, part := range parts {
			if i > 0 {
				flush()
				page++
			}
			if strings.TrimSpace(part) == "" {
				// One blank line separates paragraphs; runs collapse.
				if current.Len() > 0 && !strings.HasSuffix(current.String(), "\n\n") {
					current.WriteString("\n")
				}
				continue
			}
			current.WriteString(part)
			current.WriteString("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return src, nil
}
