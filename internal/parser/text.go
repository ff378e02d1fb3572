package parser

import (
	"regexp"

	"github.com/scribe-rag/scribe/internal/model"
)

// mdHeading matches ATX headings at any level 1-6.
var mdHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// ParseText decodes plain UTF-8 text and detects sections heuristically.
func ParseText(data []byte) (*model.ParsedDocument, error) {
	content := normalizeText(string(data))
	if content == "" {
		return &model.ParsedDocument{Content: ""}, nil
	}
	return &model.ParsedDocument{
		Content:  content,
		Sections: detectSections(content),
	}, nil
}

// ParseMarkdown splits markdown into heading-delimited sections and takes
// the document title from the first level-1 heading.
func ParseMarkdown(data []byte) (*model.ParsedDocument, error) {
	content := normalizeText(string(data))
	if content == "" {
		return &model.ParsedDocument{Content: ""}, nil
	}

	var (
		sections []model.Section
		title    string
		current  = -1
	)
	for _, ln := range splitLinesWithOffsets(content) {
		m := mdHeading.FindStringSubmatch(ln.text)
		if m == nil {
			continue
		}
		if len(m[1]) == 1 && title == "" {
			title = m[2]
		}

		if current >= 0 {
			sections[current].EndOffset = ln.start
			sections[current].Content = content[sections[current].StartOffset:ln.start]
		}
		sections = append(sections, model.Section{
			Title:       m[2],
			StartOffset: ln.start,
		})
		current = len(sections) - 1
	}
	if current >= 0 {
		sections[current].EndOffset = len(content)
		sections[current].Content = content[sections[current].StartOffset:]
	}

	doc := &model.ParsedDocument{Content: content, Sections: sections}
	if title != "" {
		doc.Metadata = map[string]any{"title": title}
	}
	return doc, nil
}
