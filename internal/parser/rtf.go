package parser

import (
	"strconv"
	"strings"

	"github.com/scribe-rag/scribe/internal/model"
)

// rtfSkipGroups are destination groups whose content is formatting data,
// not document text.
var rtfSkipGroups = map[string]bool{
	"fonttbl":    true,
	"colortbl":   true,
	"stylesheet": true,
	"info":       true,
	"pict":       true,
	"object":     true,
	"header":     true,
	"footer":     true,
}

// ParseRTF strips RTF control words and groups, keeping document text.
// \par and \line become newlines; \'hh hex escapes are decoded as cp1252
// where it overlaps ASCII/latin-1.
func ParseRTF(data []byte) (*model.ParsedDocument, error) {
	src := string(data)
	var b strings.Builder
	skipDepth := 0 // depth inside a skipped destination group, 0 = not skipping
	depth := 0

	i := 0
	for i < len(src) {
		c := src[i]
		switch c {
		case '{':
			depth++
			i++
			// A group opening with \* or a known destination is dropped whole.
			if skipDepth == 0 {
				if word, ok := peekGroupDestination(src[i:]); ok && (word == "*" || rtfSkipGroups[word]) {
					skipDepth = depth
				}
			}
		case '}':
			if skipDepth == depth {
				skipDepth = 0
			}
			depth--
			i++
		case '\\':
			word, arg, consumed := readControlWord(src[i:])
			i += consumed
			if skipDepth > 0 {
				continue
			}
			switch word {
			case "par", "line":
				b.WriteString("\n")
			case "tab":
				b.WriteString("\t")
			case "'":
				if code, err := strconv.ParseInt(arg, 16, 32); err == nil {
					b.WriteRune(rune(code))
				}
			case "{", "}", "\\":
				b.WriteString(word)
			case "u":
				if code, err := strconv.ParseInt(arg, 10, 32); err == nil && code > 0 {
					b.WriteRune(rune(code))
				}
			}
		default:
			if skipDepth == 0 && c != '\r' && c != '\n' {
				b.WriteByte(c)
			}
			i++
		}
	}

	content := normalizeText(b.String())
	doc := &model.ParsedDocument{Content: content}
	if content != "" {
		doc.Sections = detectSections(content)
	}
	return doc, nil
}

// peekGroupDestination inspects the control word right after "{".
func peekGroupDestination(s string) (string, bool) {
	if len(s) == 0 || s[0] != '\\' {
		return "", false
	}
	if len(s) > 1 && s[1] == '*' {
		return "*", true
	}
	j := 1
	for j < len(s) && isRTFLetter(s[j]) {
		j++
	}
	if j == 1 {
		return "", false
	}
	return s[1:j], true
}

// readControlWord consumes "\word<N>? ?" or a control symbol and returns
// the word, its argument (digits, or two hex chars for \'), and the number
// of bytes consumed including the backslash.
func readControlWord(s string) (word, arg string, consumed int) {
	if len(s) < 2 {
		return "", "", len(s)
	}
	j := 1

	// Control symbols: a single non-letter character.
	if !isRTFLetter(s[j]) {
		sym := string(s[j])
		j++
		if sym == "'" && len(s) >= j+2 {
			return "'", s[j : j+2], j + 2
		}
		return sym, "", j
	}

	for j < len(s) && isRTFLetter(s[j]) {
		word += string(s[j])
		j++
	}
	if j < len(s) && (s[j] == '-' || (s[j] >= '0' && s[j] <= '9')) {
		if s[j] == '-' {
			arg = "-"
			j++
		}
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			arg += string(s[j])
			j++
		}
	}
	// A single trailing space is part of the control word.
	if j < len(s) && s[j] == ' ' {
		j++
	}
	return word, arg, j
}

func isRTFLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
