// Package extract turns an uploaded file into plain text. PDFs are read page
// by page with github.com/ledongthuc/pdf; .txt and .md files pass through.
package extract

import (
	"context"
	"path/filepath"
	"strings"
)

// Extractor converts raw file content into plain text.
type Extractor interface {
	// Extract returns the text of content. filename is only used to pick a
	// decoder and for log context.
	Extract(ctx context.Context, filename string, content []byte) (string, error)
}

// plainTextExts are indexed as-is instead of going through the PDF reader.
var plainTextExts = map[string]bool{
	".txt": true,
	".md":  true,
}

// Auto dispatches on the filename extension: .txt and .md are read as UTF-8
// text, everything else as PDF.
type Auto struct {
	PDF  Extractor
	Text Extractor
}

// New returns the default extension-dispatching extractor.
func New() *Auto {
	return &Auto{PDF: PDFExtractor{}, Text: PlainTextExtractor{}}
}

// Extract implements Extractor.
func (a *Auto) Extract(ctx context.Context, filename string, content []byte) (string, error) {
	if plainTextExts[strings.ToLower(filepath.Ext(filename))] {
		return a.Text.Extract(ctx, filename, content)
	}
	return a.PDF.Extract(ctx, filename, content)
}
