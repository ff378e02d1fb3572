package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// Office Open XML formats are zip archives of XML parts. The parsers below
// stream the relevant parts with a token decoder instead of materializing
// the full document trees.

func openZip(data []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.New(errors.KindValidation, "open "+format+" archive", err)
	}
	return zr, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, nil
}

// ParseDocx extracts paragraph text from word/document.xml. Paragraphs
// styled Heading1-Heading9 delimit sections; the first Heading1 becomes
// the title.
func ParseDocx(data []byte) (*model.ParsedDocument, error) {
	zr, err := openZip(data, "docx")
	if err != nil {
		return nil, err
	}
	part, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, errors.New(errors.KindValidation, "read docx document part", err)
	}
	if part == nil {
		return nil, errors.Validation("docx archive has no word/document.xml")
	}

	type paragraph struct {
		text    string
		heading bool
		level   int
	}

	var (
		paras   []paragraph
		current strings.Builder
		inPara  bool
		heading bool
		level   int
	)
	dec := xml.NewDecoder(bytes.NewReader(part))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(errors.KindValidation, "parse docx xml", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				heading = false
				level = 0
				current.Reset()
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" && strings.HasPrefix(attr.Value, "Heading") {
						heading = true
						level, _ = strconv.Atoi(strings.TrimPrefix(attr.Value, "Heading"))
					}
				}
			case "t":
				if inPara {
					var text string
					if err := dec.DecodeElement(&text, &t); err == nil {
						current.WriteString(text)
					}
				}
			case "tab":
				if inPara {
					current.WriteString("\t")
				}
			case "br":
				if inPara {
					current.WriteString("\n")
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inPara {
				paras = append(paras, paragraph{
					text:    strings.TrimSpace(current.String()),
					heading: heading,
					level:   level,
				})
				inPara = false
			}
		}
	}

	var (
		b        strings.Builder
		sections []model.Section
		title    string
		cur      = -1
	)
	for _, p := range paras {
		if p.text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(p.text)

		if p.heading {
			if title == "" && p.level == 1 {
				title = p.text
			}
			if cur >= 0 {
				sections[cur].EndOffset = start
			}
			sections = append(sections, model.Section{Title: p.text, StartOffset: start})
			cur = len(sections) - 1
		}
	}
	content := b.String()
	if cur >= 0 {
		sections[cur].EndOffset = len(content)
	}
	for i := range sections {
		sections[i].Content = content[sections[i].StartOffset:sections[i].EndOffset]
	}
	if len(sections) == 0 {
		sections = detectSections(content)
	}

	doc := &model.ParsedDocument{Content: content, Sections: sections}
	if title != "" {
		doc.Metadata = map[string]any{"title": title}
	}
	return doc, nil
}

// ParsePptx extracts text from ppt/slides/slideN.xml in slide order. Each
// slide becomes one section; its first line is the section title.
func ParsePptx(data []byte) (*model.ParsedDocument, error) {
	zr, err := openZip(data, "pptx")
	if err != nil {
		return nil, err
	}

	type slideFile struct {
		name string
		num  int
	}
	var slides []slideFile
	for _, f := range zr.File {
		var n int
		if _, err := fmt.Sscanf(f.Name, "ppt/slides/slide%d.xml", &n); err == nil {
			slides = append(slides, slideFile{name: f.Name, num: n})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var (
		b        strings.Builder
		sections []model.Section
		warnings []string
	)
	for _, s := range slides {
		part, err := readZipFile(zr, s.name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("slide %d unreadable", s.num))
			continue
		}
		lines := drawingMLText(part)
		if len(lines) == 0 {
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(strings.Join(lines, "\n"))
		sections = append(sections, model.Section{
			Title:       lines[0],
			StartOffset: start,
			EndOffset:   b.Len(),
			SlideNumber: s.num,
		})
	}

	content := b.String()
	for i := range sections {
		sections[i].Content = content[sections[i].StartOffset:sections[i].EndOffset]
	}

	meta := map[string]any{"slideCount": len(slides)}
	if len(warnings) > 0 {
		meta["warnings"] = warnings
	}
	return &model.ParsedDocument{Content: content, Metadata: meta, Sections: sections}, nil
}

// drawingMLText collects the <a:t> runs of one slide, one line per
// paragraph element.
func drawingMLText(part []byte) []string {
	var (
		lines   []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			lines = append(lines, s)
		}
		current.Reset()
	}

	dec := xml.NewDecoder(bytes.NewReader(part))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					current.WriteString(text)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				flush()
			}
		}
	}
	flush()
	return lines
}

// ParseXlsx renders each worksheet as comma-separated rows. One section per
// sheet, named from xl/workbook.xml in declaration order.
func ParseXlsx(data []byte) (*model.ParsedDocument, error) {
	zr, err := openZip(data, "xlsx")
	if err != nil {
		return nil, err
	}

	shared, err := xlsxSharedStrings(zr)
	if err != nil {
		return nil, err
	}
	names := xlsxSheetNames(zr)

	type sheetFile struct {
		name string
		num  int
	}
	var sheets []sheetFile
	for _, f := range zr.File {
		var n int
		if _, err := fmt.Sscanf(f.Name, "xl/worksheets/sheet%d.xml", &n); err == nil {
			sheets = append(sheets, sheetFile{name: f.Name, num: n})
		}
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].num < sheets[j].num })

	var (
		b        strings.Builder
		sections []model.Section
	)
	for i, s := range sheets {
		part, err := readZipFile(zr, s.name)
		if err != nil || part == nil {
			continue
		}
		rows := xlsxSheetRows(part, shared)
		if len(rows) == 0 {
			continue
		}

		sheetName := fmt.Sprintf("Sheet%d", s.num)
		if i < len(names) {
			sheetName = names[i]
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(sheetName)
		b.WriteString("\n")
		b.WriteString(strings.Join(rows, "\n"))
		sections = append(sections, model.Section{
			Title:       sheetName,
			StartOffset: start,
			EndOffset:   b.Len(),
			SheetName:   sheetName,
		})
	}

	content := b.String()
	for i := range sections {
		sections[i].Content = content[sections[i].StartOffset:sections[i].EndOffset]
	}

	return &model.ParsedDocument{
		Content:  content,
		Metadata: map[string]any{"sheetCount": len(sheets)},
		Sections: sections,
	}, nil
}

func xlsxSharedStrings(zr *zip.Reader) ([]string, error) {
	part, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil, errors.New(errors.KindValidation, "read xlsx shared strings", err)
	}
	if part == nil {
		return nil, nil
	}

	var (
		shared  []string
		current strings.Builder
		inItem  bool
	)
	dec := xml.NewDecoder(bytes.NewReader(part))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				current.Reset()
			case "t":
				if inItem {
					var text string
					if err := dec.DecodeElement(&text, &t); err == nil {
						current.WriteString(text)
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "si" && inItem {
				shared = append(shared, current.String())
				inItem = false
			}
		}
	}
	return shared, nil
}

func xlsxSheetNames(zr *zip.Reader) []string {
	part, err := readZipFile(zr, "xl/workbook.xml")
	if err != nil || part == nil {
		return nil
	}

	var names []string
	dec := xml.NewDecoder(bytes.NewReader(part))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if t, ok := tok.(xml.StartElement); ok && t.Name.Local == "sheet" {
			for _, attr := range t.Attr {
				if attr.Name.Local == "name" {
					names = append(names, attr.Value)
				}
			}
		}
	}
	return names
}

// xlsxSheetRows renders each row as comma-separated cell values. Cells
// typed "s" are resolved through the shared-string table.
func xlsxSheetRows(part []byte, shared []string) []string {
	var (
		rows     []string
		cells    []string
		cellType string
		inValue  bool
	)
	dec := xml.NewDecoder(bytes.NewReader(part))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cells = nil
			case "c":
				cellType = ""
				for _, attr := range t.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v", "is":
				inValue = true
			case "t":
				if inValue && cellType == "inlineStr" {
					var text string
					if err := dec.DecodeElement(&text, &t); err == nil {
						cells = append(cells, text)
					}
				}
			}
		case xml.CharData:
			if inValue && cellType != "inlineStr" {
				val := strings.TrimSpace(string(t))
				if val == "" {
					break
				}
				if cellType == "s" {
					if idx, err := strconv.Atoi(val); err == nil && idx >= 0 && idx < len(shared) {
						cells = append(cells, shared[idx])
						break
					}
				}
				cells = append(cells, val)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "is":
				inValue = false
			case "row":
				if row := strings.TrimSpace(strings.Join(cells, ", ")); row != "" {
					rows = append(rows, row)
				}
			}
		}
	}
	return rows
}
