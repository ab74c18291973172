// Package csvtext renders CSV files as aligned text tables.
package csvtext

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/plaintext"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor parses CSV with encoding/csv.
type Extractor struct{}

// New creates a new CSV extractor.
func New() *Extractor {
	return &Extractor{}
}

// Format returns the format tag.
func (e *Extractor) Format() driven.Format {
	return driven.FormatCSV
}

// Extract renders every record as one line with columns aligned. The
// delimiter is a comma unless the header line only splits on semicolons.
func (e *Extractor) Extract(_ context.Context, path, _ string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}
	return Table(plaintext.Decode(data))
}

// Table parses CSV text and renders it as an aligned table.
func Table(text string) (string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parse csv: %w", domain.ErrExtractionFailed, err)
		}
		rows = append(rows, rec)
	}
	return Render(rows)
}

// Render lays rows out as left-aligned columns separated by two spaces.
// Whitespace inside a cell is collapsed and trailing padding removed.
func Render(rows [][]string) (string, error) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, field := range row {
			cells[i] = strings.Join(strings.Fields(field), " ")
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return "", fmt.Errorf("%w: render table: %w", domain.ErrExtractionFailed, err)
	}

	var lines []string
	sc := bufio.NewScanner(&buf)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), " "))
	}
	return strings.Join(lines, "\n"), sc.Err()
}

func sniffDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")
	if !strings.Contains(header, ",") && strings.Contains(header, ";") {
		return ';'
	}
	return ','
}
