package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files. Word has no stored pagination, so the
// whole body is page 1.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*document.Source, error) {
	// go-docx needs a ReadSeeker+size, so write to temp file.
	tmp, err := os.CreateTemp("", "regcheck-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, size)
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	var paragraphs []string
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			if t := docxParagraphText(it); t != "" {
				paragraphs = append(paragraphs, t)
			}
		case *docx.Table:
			paragraphs = append(paragraphs, docxTableText(it)...)
		}
	}

	return singlePage(filename, paragraphs), nil
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

// docxTableText flattens each table row into one "cell; cell" line.
func docxTableText(tbl *docx.Table) []string {
	var rows []string
	for _, row := range tbl.TableRows {
		var cells []string
		for _, cell := range row.TableCells {
			var parts []string
			for _, para := range cell.Paragraphs {
				if t := docxParagraphText(para); t != "" {
					parts = append(parts, t)
				}
			}
			if len(parts) > 0 {
				cells = append(cells, strings.Join(parts, " "))
			}
		}
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, "; "))
		}
	}
	return rows
}
