// Package pdfread extracts per-page text from PDF files (spec §4.D).
// Grounded on github.com/ledongthuc/pdf, used identically by two
// independent example repos (bbiangul-go-reason, teilomillet-raggo),
// making it the strongest-corroborated choice in the retrieved corpus.
package pdfread

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is one page's extracted text, tagged with its 0-based index.
type Page struct {
	// Index is the 0-based page number (spec's source_position for PDFs).
	Index int
	// Text is the page's extracted plain text.
	Text string
}

// ReadPages opens the PDF at path and extracts text page by page. Pages
// whose extracted text is empty (after trimming) are skipped, matching
// spec §4.D's "pages yielding empty text are skipped" rule.
func ReadPages(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdfread: open %s: %w", path, err)
	}
	defer f.Close()

	var pages []Page
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the whole document;
			// skip it and keep going (spec §7's per-path failure isolation
			// extends naturally to per-page isolation within one file).
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		pages = append(pages, Page{Index: i - 1, Text: text})
	}

	return pages, nil
}
