// Package ooxml reads parts of Office Open XML packages (docx, xlsx, pptx).
package ooxml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ErrPartMissing is returned when a package lacks a required part.
var ErrPartMissing = errors.New("ooxml: part missing")

// maxPartSize bounds a single decompressed part.
const maxPartSize = 256 << 20

// Package is an opened OOXML zip archive.
type Package struct {
	rc *zip.ReadCloser
}

// Open opens the package at path.
func Open(path string) (*Package, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	return &Package{rc: rc}, nil
}

// Close releases the archive.
func (p *Package) Close() error {
	return p.rc.Close()
}

// Read returns the contents of the named part.
func (p *Package) Read(name string) ([]byte, error) {
	for _, f := range p.rc.File {
		if f.Name != name {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer r.Close()

		data, err := io.ReadAll(io.LimitReader(r, maxPartSize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPartMissing, name)
}

// Numbered returns the names of parts matching prefix<N>.xml ordered by N,
// so slide10 follows slide9.
func (p *Package) Numbered(prefix string) []string {
	type part struct {
		name string
		n    int
	}
	var parts []part
	for _, f := range p.rc.File {
		if !strings.HasPrefix(f.Name, prefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".xml"))
		if err != nil {
			continue
		}
		parts = append(parts, part{name: f.Name, n: n})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	names := make([]string, len(parts))
	for i, pt := range parts {
		names[i] = pt.name
	}
	return names
}

// Paragraphs streams data and returns the text of every element with local
// name para, concatenating the character data of its descendant elements
// named text. Tab and line-break elements become "\t" and "\n". Paragraphs
// with no text are kept as empty strings.
func Paragraphs(data []byte, para, text string) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		out    []string
		cur    strings.Builder
		inPara int
		inText int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case para:
				if inPara == 0 {
					cur.Reset()
				}
				inPara++
			case text:
				inText++
			case "tab":
				if inPara > 0 {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara > 0 {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case para:
				inPara--
				if inPara == 0 {
					out = append(out, cur.String())
				}
			case text:
				inText--
			}
		case xml.CharData:
			if inPara > 0 && inText > 0 {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
