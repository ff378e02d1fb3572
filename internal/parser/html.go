package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// mainContentSelectors are tried in order; the first match becomes the
// content root.
var mainContentSelectors = []string{
	"main", "article", "[role=main]", ".content", "#content", ".main", "#main", "body",
}

// htmlBlockSelector lists the block elements whose text is extracted.
// Headings open a new section.
const htmlBlockSelector = "h1, h2, h3, h4, h5, h6, p, li, td, th, blockquote, pre, code"

// ParseHTML extracts readable text from an HTML document. Scripts, styles
// and embedded frames are dropped; block elements become paragraphs
// separated by blank lines; headings h1-h6 delimit sections.
func ParseHTML(data []byte) (*model.ParsedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(errors.KindValidation, "parse html", err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	meta := htmlMetadata(doc)

	var root *goquery.Selection
	for _, sel := range mainContentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			root = s
			break
		}
	}
	if root == nil {
		root = doc.Selection
	}

	var (
		b        strings.Builder
		sections []model.Section
		current  = -1
	)
	root.Find(htmlBlockSelector).Each(func(_ int, s *goquery.Selection) {
		// Skip nested blocks (p inside li, code inside pre) so text is
		// extracted exactly once.
		if s.ParentsFiltered(htmlBlockSelector).Length() > 0 {
			return
		}
		text := collapseSpaces(s.Text())
		if text == "" {
			return
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(text)

		if isHeadingTag(goquery.NodeName(s)) {
			if current >= 0 {
				sections[current].EndOffset = start
			}
			sections = append(sections, model.Section{
				Title:       text,
				StartOffset: start,
			})
			current = len(sections) - 1
		}
	})

	content := b.String()
	if content == "" {
		content = collapseSpaces(root.Text())
	}
	if current >= 0 {
		sections[current].EndOffset = len(content)
	}
	for i := range sections {
		sections[i].Content = content[sections[i].StartOffset:sections[i].EndOffset]
	}

	return &model.ParsedDocument{
		Content:  strings.TrimSpace(content),
		Metadata: meta,
		Sections: sections,
	}, nil
}

func isHeadingTag(name string) bool {
	return len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6'
}

// htmlMetadata collects title, description, author and keywords, with
// OpenGraph fallbacks for title and description.
func htmlMetadata(doc *goquery.Document) map[string]any {
	meta := make(map[string]any)

	metaContent := func(sel string) string {
		v, _ := doc.Find(sel).First().Attr("content")
		return strings.TrimSpace(v)
	}

	title := collapseSpaces(doc.Find("title").First().Text())
	if title == "" {
		title = metaContent(`meta[property="og:title"]`)
	}
	if title != "" {
		meta["title"] = title
	}

	desc := metaContent(`meta[name="description"]`)
	if desc == "" {
		desc = metaContent(`meta[property="og:description"]`)
	}
	if desc != "" {
		meta["description"] = desc
	}

	if author := metaContent(`meta[name="author"]`); author != "" {
		meta["author"] = author
	}
	if keywords := metaContent(`meta[name="keywords"]`); keywords != "" {
		meta["keywords"] = keywords
	}

	if len(meta) == 0 {
		return nil
	}
	return meta
}
