package extractors

import (
	"mime"
	"sort"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/extractors/legacy"
)

// mediaTypes maps normalised media types to formats.
var mediaTypes = map[string]driven.Format{
	"text/plain":      driven.FormatPlainText,
	"text/markdown":   driven.FormatPlainText,
	"text/x-markdown": driven.FormatPlainText,

	"text/html":             driven.FormatHTML,
	"application/xhtml+xml": driven.FormatHTML,

	"application/xml": driven.FormatXML,
	"text/xml":        driven.FormatXML,

	"text/csv": driven.FormatCSV,

	"application/pdf": driven.FormatPDF,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   driven.FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         driven.FormatXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": driven.FormatPPTX,
}

func init() {
	for _, mt := range legacy.MediaTypes() {
		mediaTypes[mt] = driven.FormatLegacyOffice
	}
}

// Normalise lower-cases a media type and drops parameters such as charset.
func Normalise(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// FormatOf resolves a media type to its format.
func FormatOf(mediaType string) (driven.Format, bool) {
	f, ok := mediaTypes[Normalise(mediaType)]
	return f, ok
}

// MediaTypes returns every recognised media type, sorted.
func MediaTypes() []string {
	out := make([]string, 0, len(mediaTypes))
	for mt := range mediaTypes {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}
