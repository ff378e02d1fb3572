package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// ParsePDF extracts plain text page by page. Each page becomes a section
// carrying its page number; unreadable pages are skipped with a warning.
func ParsePDF(data []byte) (*model.ParsedDocument, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.New(errors.KindValidation, "open pdf", err)
	}

	var (
		b        strings.Builder
		sections []model.Section
		warnings []string
	)
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: text extraction failed", i))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(text)
		sections = append(sections, model.Section{
			StartOffset: start,
			EndOffset:   b.Len(),
			PageNumber:  i,
		})
	}

	content := b.String()
	for i := range sections {
		sections[i].Content = content[sections[i].StartOffset:sections[i].EndOffset]
	}

	meta := map[string]any{"pageCount": r.NumPage()}
	if len(warnings) > 0 {
		meta["warnings"] = warnings
	}
	return &model.ParsedDocument{Content: content, Metadata: meta, Sections: sections}, nil
}
