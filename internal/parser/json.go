package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// ParseJSON flattens a JSON document into "path: value" lines so nested
// values stay searchable. A top-level "title" string becomes metadata.
func ParseJSON(data []byte) (*model.ParsedDocument, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, errors.New(errors.KindValidation, "parse json", err)
	}

	var b strings.Builder
	flattenJSON("", root, &b)
	content := strings.TrimSpace(b.String())

	var meta map[string]any
	if obj, ok := root.(map[string]any); ok {
		if title, ok := obj["title"].(string); ok && title != "" {
			meta = map[string]any{"title": title}
		}
	}

	doc := &model.ParsedDocument{Content: content, Metadata: meta}
	if content != "" {
		doc.Sections = detectSections(content)
	}
	return doc, nil
}

func flattenJSON(path string, v any, b *strings.Builder) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(joinPath(path, k), t[k], b)
		}
	case []any:
		for i, item := range t {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), item, b)
		}
	case nil:
		// Nulls carry no searchable text.
	default:
		if path == "" {
			fmt.Fprintf(b, "%v\n", t)
			return
		}
		fmt.Fprintf(b, "%s: %v\n", path, t)
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
