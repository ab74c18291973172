// Package xlsx extracts cell text from Excel (OOXML) workbooks.
package xlsx

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/csvtext"
	"github.com/democracy-chain/dcindex/internal/extractors/ooxml"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

const (
	workbookPart      = "xl/workbook.xml"
	workbookRelsPart  = "xl/_rels/workbook.xml.rels"
	sharedStringsPart = "xl/sharedStrings.xml"
	worksheetPrefix   = "xl/worksheets/sheet"
)

// Extractor renders every worksheet as an aligned table.
type Extractor struct{}

// New creates a new XLSX extractor.
func New() *Extractor {
	return &Extractor{}
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatXLSX
}

// Extract renders each sheet under a "## <name>" header, in workbook order.
func (e *Extractor) Extract(_ context.Context, p, _ string) (string, error) {
	pkg, err := ooxml.Open(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	defer pkg.Close()

	shared, err := sharedStrings(pkg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}

	sheets := sheetParts(pkg)
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no worksheets", domain.ErrExtractionFailed)
	}

	var sections []string
	for _, s := range sheets {
		data, err := pkg.Read(s.part)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
		}
		rows, err := parseSheet(data, shared)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, s.part, err)
		}
		table, err := csvtext.Render(rows)
		if err != nil {
			return "", err
		}
		sections = append(sections, "## "+s.name+"\n"+table)
	}
	return strings.Join(sections, "\n\n"), nil
}

type sheetRef struct {
	name string
	part string
}

type workbookXML struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type relsXML struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// sheetParts resolves sheet names to parts through the workbook
// relationships, falling back to numbered worksheet parts.
func sheetParts(pkg *ooxml.Package) []sheetRef {
	var wb workbookXML
	var rels relsXML
	wbData, err1 := pkg.Read(workbookPart)
	relData, err2 := pkg.Read(workbookRelsPart)
	if err1 == nil && err2 == nil &&
		xml.Unmarshal(wbData, &wb) == nil && xml.Unmarshal(relData, &rels) == nil {
		targets := make(map[string]string, len(rels.Rels))
		for _, r := range rels.Rels {
			targets[r.ID] = r.Target
		}

		var refs []sheetRef
		for _, s := range wb.Sheets {
			target, ok := targets[s.RID]
			if !ok {
				continue
			}
			part := strings.TrimPrefix(target, "/")
			if !strings.HasPrefix(part, "xl/") {
				part = path.Join("xl", part)
			}
			refs = append(refs, sheetRef{name: s.Name, part: part})
		}
		if len(refs) > 0 {
			return refs
		}
	}

	var refs []sheetRef
	for i, part := range pkg.Numbered(worksheetPrefix) {
		refs = append(refs, sheetRef{name: "Sheet" + strconv.Itoa(i+1), part: part})
	}
	return refs
}

func sharedStrings(pkg *ooxml.Package) ([]string, error) {
	data, err := pkg.Read(sharedStringsPart)
	if errors.Is(err, ooxml.ErrPartMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ooxml.Paragraphs(data, "si", "t")
}

type worksheetXML struct {
	Rows []struct {
		Cells []cellXML `xml:"c"`
	} `xml:"sheetData>row"`
}

type cellXML struct {
	Ref     string   `xml:"r,attr"`
	Type    string   `xml:"t,attr"`
	Value   string   `xml:"v"`
	Inline  string   `xml:"is>t"`
	InlineR []string `xml:"is>r>t"`
}

func parseSheet(data []byte, shared []string) ([][]string, error) {
	var ws worksheetXML
	if err := xml.Unmarshal(data, &ws); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(ws.Rows))
	for _, row := range ws.Rows {
		var cells []string
		for _, c := range row.Cells {
			col := columnIndex(c.Ref)
			if col < 0 {
				col = len(cells)
			}
			for len(cells) < col {
				cells = append(cells, "")
			}
			v := cellValue(c, shared)
			if col < len(cells) {
				cells[col] = v
			} else {
				cells = append(cells, v)
			}
		}
		if strings.TrimSpace(strings.Join(cells, "")) == "" {
			continue
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func cellValue(c cellXML, shared []string) string {
	switch c.Type {
	case "s":
		i, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i]
	case "inlineStr":
		if c.Inline != "" {
			return c.Inline
		}
		return strings.Join(c.InlineR, "")
	case "b":
		if strings.TrimSpace(c.Value) == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		return c.Value
	}
}

// columnIndex converts the letters of a cell reference such as "AB12" to a
// zero-based column number, or -1 when there are none.
func columnIndex(ref string) int {
	col := 0
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
		n++
	}
	if n == 0 {
		return -1
	}
	return col - 1
}
