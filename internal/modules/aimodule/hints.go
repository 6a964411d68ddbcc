package aimodule

import (
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/modelbay/modelbay/internal/logger"
)

// maxHintRunes caps how much extracted text is forwarded to the AI
// backend; printing instructions rarely need more than the opening.
const maxHintRunes = 2000

// TextHint extracts plain text from the opening pages of a PDF so the
// AI request can carry the designer's own printing notes. Never fails;
// anything unreadable just yields an empty hint.
func (c *Client) TextHint(path string) (hint string) {
	// The pdf library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("PDF text extraction panicked for %s: %v", path, r)
			hint = ""
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		logger.Debug("Could not open PDF %s for text hints: %v", path, err)
		return ""
	}
	defer f.Close()

	limit := c.pdfPages
	if limit <= 0 {
		limit = 1
	}
	if total := r.NumPage(); total < limit {
		limit = total
	}

	var b strings.Builder
	for page := 1; page <= limit; page++ {
		p := r.Page(page)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			logger.Debug("Could not extract text from page %d of %s: %v", page, path, err)
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}

	return clampHint(collapseWhitespace(b.String()))
}

// collapseWhitespace squashes runs of whitespace, including the layout
// newlines PDF extraction produces, into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clampHint(s string) string {
	runes := []rune(s)
	if len(runes) <= maxHintRunes {
		return s
	}
	return string(runes[:maxHintRunes])
}
