package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
)

// Parser extracts per-page text from raw document bytes.
type Parser interface {
	Parse(r io.Reader, filename string) (*document.Source, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// Options tunes parser construction.
type Options struct {
	PDFFallbackPdftotext bool
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: opts.PDFFallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// singlePage wraps paragraphs of a format without pagination as page 1.
func singlePage(filename string, paragraphs []string) *document.Source {
	src := &document.Source{Name: filepath.Base(filename)}
	text := strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
	if text != "" {
		src.Pages = []document.Page{{Number: 1, Text: text}}
	}
	return src
}
