// Package parser converts raw document bytes into normalized text with
// optional section structure and metadata. One parser per file type,
// registered in a dispatch table; new formats are added by registering a
// function.
package parser

import (
	"fmt"
	"strings"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// ParseFunc converts raw bytes of one format into a ParsedDocument.
type ParseFunc func(data []byte) (*model.ParsedDocument, error)

// Registry dispatches parsing by file type.
type Registry struct {
	parsers map[model.FileType]ParseFunc
}

// NewRegistry returns a registry with all built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[model.FileType]ParseFunc)}
	r.Register(model.FileTypeTxt, ParseText)
	r.Register(model.FileTypeMd, ParseMarkdown)
	r.Register(model.FileTypeHtml, ParseHTML)
	r.Register(model.FileTypeCsv, ParseCSV)
	r.Register(model.FileTypeJson, ParseJSON)
	r.Register(model.FileTypeDocx, ParseDocx)
	r.Register(model.FileTypePptx, ParsePptx)
	r.Register(model.FileTypeXlsx, ParseXlsx)
	r.Register(model.FileTypePdf, ParsePDF)
	r.Register(model.FileTypeRtf, ParseRTF)
	return r
}

// Register installs or replaces the parser for a file type.
func (r *Registry) Register(ft model.FileType, fn ParseFunc) {
	r.parsers[ft] = fn
}

// Parse converts data of the given type. Empty input yields an empty
// ParsedDocument for every format.
func (r *Registry) Parse(data []byte, ft model.FileType) (*model.ParsedDocument, error) {
	fn, ok := r.parsers[ft]
	if !ok {
		return nil, errors.Validation(fmt.Sprintf("unsupported file type: %s", ft))
	}
	if len(data) == 0 {
		return &model.ParsedDocument{Content: ""}, nil
	}
	return fn(data)
}

// normalizeText strips a UTF-8 BOM, converts CRLF/CR line endings to LF,
// and trims surrounding whitespace.
func normalizeText(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// collapseSpaces collapses whitespace runs to single spaces.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
