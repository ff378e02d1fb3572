package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/scribe-rag/scribe/internal/model"
)

// enumeratedHeading matches "1. Title", "2) Title", "A. Title".
var enumeratedHeading = regexp.MustCompile(`^(\d+[.)]|[A-Z]\.)\s+\S`)

// headingKeywords are case-insensitive prefixes that mark structural lines.
var headingKeywords = []string{
	"chapter", "section", "part", "introduction",
	"conclusion", "summary", "overview", "appendix",
}

// isHeadingLine reports whether line looks like a heading. next is the next
// non-empty line, or "" at end of input. A line qualifies when it is
// all-caps of moderate length, enumerated, starts with a structural
// keyword, or is short and followed by a longer line.
func isHeadingLine(line, next string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if hasLetters(line) && line == strings.ToUpper(line) &&
		len(line) > 3 && len(line) <= 100 {
		return true
	}

	if enumeratedHeading.MatchString(line) {
		return true
	}

	lower := strings.ToLower(line)
	for _, kw := range headingKeywords {
		if strings.HasPrefix(lower, kw) {
			return true
		}
	}

	return len(line) < 30 && next != "" && len(next) > len(line)
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// detectSections applies the heading heuristic to unstructured text and
// returns heading-delimited sections with byte offsets into content.
// Returns nil when no headings are found.
func detectSections(content string) []model.Section {
	lines := splitLinesWithOffsets(content)

	var sections []model.Section
	current := -1
	for i, ln := range lines {
		next := ""
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j].text) != "" {
				next = strings.TrimSpace(lines[j].text)
				break
			}
		}
		if !isHeadingLine(ln.text, next) {
			continue
		}

		if current >= 0 {
			sections[current].EndOffset = ln.start
			sections[current].Content = content[sections[current].StartOffset:ln.start]
		}
		sections = append(sections, model.Section{
			Title:       strings.TrimSpace(ln.text),
			StartOffset: ln.start,
		})
		current = len(sections) - 1
	}

	if current >= 0 {
		sections[current].EndOffset = len(content)
		sections[current].Content = content[sections[current].StartOffset:]
	}
	return sections
}

type offsetLine struct {
	text  string
	start int
}

func splitLinesWithOffsets(content string) []offsetLine {
	var lines []offsetLine
	start := 0
	for i := 0; i <= len(content); i++ {
		if i == len(content) || content[i] == '\n' {
			lines = append(lines, offsetLine{text: content[start:i], start: start})
			start = i + 1
		}
	}
	return lines
}
