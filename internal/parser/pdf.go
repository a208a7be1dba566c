package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files. It tries the Go library first,
// then falls back to pdftotext if available.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*document.Source, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "regcheck-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	src := &document.Source{Name: filepath.Base(filename)}

	err = extractPDFPages(tmpPath, src)
	if (err != nil || len(src.Pages) == 0) && p.FallbackPdftotext {
		if text, ferr := extractPdftotext(tmpPath); ferr == nil {
			src.Pages = splitPages(text)
			err = nil
		} else if err == nil {
			err = ferr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	return src, nil
}

// extractPDFPages reads each page on its own; a failing page is recorded
// on src.PageErrors and skipped.
func extractPDFPages(path string, src *document.Source) error {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		text, err := pageText(reader, i)
		if err != nil {
			src.PageErrors = append(src.PageErrors, &document.ExtractionError{
				Document: src.Name,
				Page:     i,
				Err:      err,
			})
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		src.Pages = append(src.Pages, document.Page{Number: i, Text: text})
	}
	return nil
}

// pageText extracts one page. The pdf library panics on some malformed
// content streams, so panics become errors here.
func pageText(reader *pdflib.Reader, n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic reading page: %v", r)
		}
	}()
	page := reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

// splitPages splits pdftotext output on form feeds, one per page.
func splitPages(text string) []document.Page {
	var pages []document.Page
	for i, page := range strings.Split(text, "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		pages = append(pages, document.Page{Number: i + 1, Text: page})
	}
	return pages
}
