package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/pdfrag-go/internal/logging"
)

// PDFExtractor reads the text layer of a PDF. Pages are concatenated in page
// order with no separator. A page whose object or text cannot be decoded
// contributes nothing; only a document the reader cannot open at all is an
// error.
// Scanned or image-only PDFs therefore yield "".
type PDFExtractor struct{}

// Extract implements Extractor.
func (PDFExtractor) Extract(ctx context.Context, filename string, content []byte) (text string, err error) {
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract: %s: malformed PDF: %v", filename, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract: %s: open PDF: %w", filename, err)
	}

	pages := pageRefs(reader.Trailer().Key("Root").Key("Pages"), 0, nil)

	var sb strings.Builder
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := pageText(page)
		if err != nil {
			log.Debug("extract: skipping unreadable page",
				slog.String("filename", filename),
				slog.Int("page", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		sb.WriteString(text)
	}

	log.Debug("extract: pdf read",
		slog.String("filename", filename),
		slog.Int("pages", len(pages)),
		slog.Int("bytes", sb.Len()),
	)
	return sb.String(), nil
}

// maxPageTreeDepth stops the walk on cyclic or absurdly nested page trees.
const maxPageTreeDepth = 32

// pageRefs flattens the page tree under node in document order. Every kid
// is resolved on its own, so a broken page object becomes a null Page and
// its siblings are still reached. If node itself breaks mid-walk, the pages
// collected so far are kept.
func pageRefs(node pdf.Value, depth int, acc []pdf.Page) (out []pdf.Page) {
	out = acc
	if depth > maxPageTreeDepth {
		return out
	}
	defer func() { _ = recover() }()

	kids := node.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		kid, kind := resolveKid(kids, i)
		if kind == "Pages" {
			out = pageRefs(kid, depth+1, out)
			continue
		}
		out = append(out, pdf.Page{V: kid})
	}
	return out
}

// resolveKid loads the i-th entry of a Kids array and its /Type.
func resolveKid(kids pdf.Value, i int) (kid pdf.Value, kind string) {
	defer func() {
		if r := recover(); r != nil {
			kid, kind = pdf.Value{}, ""
		}
	}()
	kid = kids.Index(i)
	return kid, kid.Key("Type").Name()
}

// pageText decodes one page. A panic inside the content stream interpreter,
// or a page object that never resolved, only loses that page.
func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page decode panic: %v", r)
		}
	}()
	if p.V.IsNull() {
		return "", errors.New("page object unreadable")
	}
	return p.GetPlainText(nil)
}
