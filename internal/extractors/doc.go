// Package extractors turns stored documents into plain text.
//
// Media types resolve to a closed set of formats (driven.Format); each
// format has exactly one extractor, living in its own sub-package. Adding
// a format means extending the enumeration and the media type table here,
// never inspecting file contents.
package extractors
