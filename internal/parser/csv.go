package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// ParseCSV renders a CSV file row by row. The first record is the header;
// each data row becomes a "header: value" block and its own section.
func ParseCSV(data []byte) (*model.ParsedDocument, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(errors.KindValidation, "parse csv", err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return &model.ParsedDocument{Content: ""}, nil
	}

	header := records[0]
	rows := records[1:]

	var (
		b        strings.Builder
		sections []model.Section
	)
	for i, row := range rows {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		start := b.Len()
		for j, val := range row {
			col := fmt.Sprintf("column%d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				col = strings.TrimSpace(header[j])
			}
			b.WriteString(col)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(val))
			b.WriteString("\n")
		}
		sections = append(sections, model.Section{
			Title:       fmt.Sprintf("Row %d", i+1),
			StartOffset: start,
			EndOffset:   b.Len(),
		})
	}

	content := strings.TrimRight(b.String(), "\n")
	for i := range sections {
		if sections[i].EndOffset > len(content) {
			sections[i].EndOffset = len(content)
		}
		sections[i].Content = content[sections[i].StartOffset:sections[i].EndOffset]
	}

	return &model.ParsedDocument{
		Content: content,
		Metadata: map[string]any{
			"columns":  header,
			"rowCount": len(rows),
		},
		Sections: sections,
	}, nil
}
