package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PlainTextExtractor returns UTF-8 content unchanged apart from a leading
// byte order mark.
type PlainTextExtractor struct{}

// Extract implements Extractor.
func (PlainTextExtractor) Extract(_ context.Context, filename string, content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("extract: %s: not valid UTF-8 text", filename)
	}
	return strings.TrimPrefix(string(content), "\ufeff"), nil
}
