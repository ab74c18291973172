// Package events encodes and decodes ingest events carried on the queue.
//
// The canonical message is
//
//	{"add":    [{"owner_id": "...", "name": "...", "media_type": "...", "created_at": "..."}],
//	 "remove": [{"owner_id": "...", "source_name": "..."}]}
//
// Decoding also accepts the upload API's field names (wallet_address,
// filename, mime_type) and its single-file form {"file": {...}}, which is
// treated as one add. Every body is validated against an embedded JSON
// schema before it is unmarshalled. The schema covers the envelope only:
// an entry without an owner or name decodes with that field blank and is
// failed on its own by the ingestion service.
package events

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/logger"
)

//go:embed event.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

type wireDescriptor struct {
	OwnerID       string  `json:"owner_id,omitempty"`
	WalletAddress string  `json:"wallet_address,omitempty"`
	Name          string  `json:"name,omitempty"`
	SourceName    string  `json:"source_name,omitempty"`
	Filename      string  `json:"filename,omitempty"`
	MediaType     string  `json:"media_type,omitempty"`
	MimeType      string  `json:"mime_type,omitempty"`
	CreatedAt     *string `json:"created_at,omitempty"`
}

func (w wireDescriptor) owner() string {
	return strings.TrimSpace(firstNonEmpty(w.OwnerID, w.WalletAddress))
}

func (w wireDescriptor) name() string {
	return strings.TrimSpace(firstNonEmpty(w.Name, w.SourceName, w.Filename))
}

type wireEvent struct {
	Add    []wireDescriptor `json:"add"`
	Remove []wireDescriptor `json:"remove"`
	File   *wireDescriptor  `json:"file,omitempty"`
}

// Validate checks body against the event schema and returns every violation.
func Validate(body []byte) ([]string, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

// Decode validates and parses a queue message.
// Malformed envelopes fail with domain.ErrInvalidEvent. Entry fields are
// not required here; a blank or wrongly typed field is left empty.
func Decode(body []byte) (domain.IngestEvent, error) {
	violations, err := Validate(body)
	if err != nil {
		return domain.IngestEvent{}, err
	}
	if len(violations) > 0 {
		return domain.IngestEvent{}, fmt.Errorf("%w: %s", domain.ErrInvalidEvent, strings.Join(violations, "; "))
	}

	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		// The schema has already accepted the envelope, so a type error
		// can only come from an entry field, which Unmarshal skips.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return domain.IngestEvent{}, fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
		}
		logger.Debug("event entry field %s has type %s, leaving it blank", typeErr.Field, typeErr.Value)
	}

	adds := w.Add
	if w.File != nil {
		adds = append(adds, *w.File)
	}

	var ev domain.IngestEvent
	for _, d := range adds {
		ev.Add = append(ev.Add, domain.FileDescriptor{
			OwnerID:   d.owner(),
			Name:      d.name(),
			MediaType: strings.TrimSpace(firstNonEmpty(d.MediaType, d.MimeType)),
			CreatedAt: parseTime(d.CreatedAt),
		})
	}
	for _, d := range w.Remove {
		ev.Remove = append(ev.Remove, domain.FileRef{
			OwnerID:    d.owner(),
			SourceName: d.name(),
		})
	}
	return ev, nil
}

// Encode renders an event in the canonical wire form.
func Encode(ev domain.IngestEvent) ([]byte, error) {
	w := wireEvent{
		Add:    make([]wireDescriptor, 0, len(ev.Add)),
		Remove: make([]wireDescriptor, 0, len(ev.Remove)),
	}
	for _, fd := range ev.Add {
		if err := fd.Ref().Validate(); err != nil {
			return nil, fmt.Errorf("encode add %s: %w", fd.Ref(), err)
		}
		d := wireDescriptor{OwnerID: fd.OwnerID, Name: fd.Name, MediaType: fd.MediaType}
		if !fd.CreatedAt.IsZero() {
			ts := fd.CreatedAt.UTC().Format(time.RFC3339Nano)
			d.CreatedAt = &ts
		}
		w.Add = append(w.Add, d)
	}
	for _, ref := range ev.Remove {
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("encode remove %s: %w", ref, err)
		}
		w.Remove = append(w.Remove, wireDescriptor{OwnerID: ref.OwnerID, SourceName: ref.SourceName})
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// timeLayouts are tried in order; naive layouts are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02",
}

// parseTime returns the zero time for absent or unparseable timestamps.
// Naive timestamps are read as UTC.
func parseTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	v := strings.TrimSpace(*s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
