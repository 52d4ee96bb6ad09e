// Package envelope defines the tenant export payload: a schema-versioned
// wrapper around one collection per entity kind. Encoding and decoding are
// strict. Unknown kinds, unknown fields and foreign tenant ids are rejected
// rather than skipped.
package envelope

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kebairia/tenantbackup/internal/backup"
)

// SchemaVersion is the only version this build reads and writes.
const SchemaVersion = 1

// Payload is the decoded envelope.
type Payload struct {
	TenantID      string
	ExportedAt    time.Time
	SchemaVersion int
	Collections   map[Kind][]Entity
}

type wirePayload struct {
	TenantID      string                     `json:"tenant_id"`
	ExportedAt    time.Time                  `json:"exported_at"`
	SchemaVersion int                        `json:"schema_version"`
	Collections   map[Kind][]json.RawMessage `json:"collections"`
}

// New returns an empty payload with every registered collection present.
func New(tenantID string, exportedAt time.Time) *Payload {
	p := &Payload{
		TenantID:      tenantID,
		ExportedAt:    exportedAt.UTC(),
		SchemaVersion: SchemaVersion,
		Collections:   make(map[Kind][]Entity, len(registry)),
	}
	for _, k := range Kinds() {
		p.Collections[k] = []Entity{}
	}
	return p
}

// Count returns the number of records across all collections.
func (p *Payload) Count() int {
	n := 0
	for _, records := range p.Collections {
		n += len(records)
	}
	return n
}

// Validate checks the envelope invariants: supported schema, known kinds,
// records filed under their own kind, unique keys, references limited to the
// kinds registered as dependencies, and every record owned by the envelope's
// tenant.
func (p *Payload) Validate() error {
	if p.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", backup.ErrSchemaMismatch, p.SchemaVersion, SchemaVersion)
	}
	if err := backup.ValidateTenantID(p.TenantID); err != nil {
		return fmt.Errorf("%w: envelope tenant: %v", backup.ErrCorruptArchive, err)
	}
	for _, k := range Kinds() {
		if _, ok := p.Collections[k]; !ok {
			return fmt.Errorf("%w: missing collection %s", backup.ErrSchemaMismatch, k)
		}
	}
	for k, records := range p.Collections {
		if !Known(k) {
			return fmt.Errorf("%w: unknown collection %s", backup.ErrSchemaMismatch, k)
		}
		seen := make(map[string]struct{}, len(records))
		for _, e := range records {
			if e.Kind() != k {
				return fmt.Errorf("%w: %s record filed under %s", backup.ErrSchemaMismatch, e.Kind(), k)
			}
			if e.Key() == "" {
				return fmt.Errorf("%w: %s record without id", backup.ErrSchemaMismatch, k)
			}
			if e.Tenant() != p.TenantID {
				return fmt.Errorf("%w: %s %s belongs to tenant %q, envelope is %q",
					backup.ErrCorruptArchive, k, e.Key(), e.Tenant(), p.TenantID)
			}
			if _, dup := seen[e.Key()]; dup {
				return fmt.Errorf("%w: duplicate %s %s", backup.ErrCorruptArchive, k, e.Key())
			}
			seen[e.Key()] = struct{}{}
			if err := e.Validate(); err != nil {
				return err
			}
			for _, ref := range e.Refs() {
				if !slices.Contains(registry[k].deps, ref.Kind) {
					return fmt.Errorf("%w: %s %s references undeclared kind %s", backup.ErrSchemaMismatch, k, e.Key(), ref.Kind)
				}
			}
		}
	}
	return nil
}

// Encode validates p and serialises it.
func Encode(p *Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	wire := wirePayload{
		TenantID:      p.TenantID,
		ExportedAt:    p.ExportedAt,
		SchemaVersion: p.SchemaVersion,
		Collections:   make(map[Kind][]json.RawMessage, len(p.Collections)),
	}
	for k, records := range p.Collections {
		raws := make([]json.RawMessage, 0, len(records))
		for _, e := range records {
			raw, err := json.Marshal(e)
			if err != nil {
				return nil, fmt.Errorf("encode %s %s: %w", k, e.Key(), err)
			}
			raws = append(raws, raw)
		}
		wire.Collections[k] = raws
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates an envelope. Malformed JSON, trailing data and
// tenant violations fail with backup.ErrCorruptArchive; anything that parses
// but does not match this schema fails with backup.ErrSchemaMismatch.
func Decode(data []byte) (*Payload, error) {
	var wire wirePayload
	if err := decodeExact(data, &wire, envelopeFields); err != nil {
		return nil, err
	}
	if wire.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", backup.ErrSchemaMismatch, wire.SchemaVersion, SchemaVersion)
	}

	p := &Payload{
		TenantID:      wire.TenantID,
		ExportedAt:    wire.ExportedAt,
		SchemaVersion: wire.SchemaVersion,
		Collections:   make(map[Kind][]Entity, len(wire.Collections)),
	}
	for k, raws := range wire.Collections {
		def, ok := registry[k]
		if !ok {
			return nil, fmt.Errorf("%w: unknown collection %s", backup.ErrSchemaMismatch, k)
		}
		records := make([]Entity, 0, len(raws))
		for _, raw := range raws {
			e, err := def.decode(raw)
			if err != nil {
				return nil, err
			}
			records = append(records, e)
		}
		p.Collections[k] = records
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

var envelopeFields = jsonFields(reflect.TypeFor[wirePayload]())

// decodeExact decodes a single JSON object into v. Object keys must equal a
// json tag of v byte for byte, and only whitespace may follow the object.
func decodeExact(data []byte, v any, fields map[string]struct{}) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return fmt.Errorf("%w: %v", backup.ErrCorruptArchive, err)
		}
		return fmt.Errorf("%w: %v", backup.ErrSchemaMismatch, err)
	}
	for key := range obj {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("%w: unknown field %q", backup.ErrSchemaMismatch, key)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", backup.ErrSchemaMismatch, err)
	}
	return nil
}

// jsonFields returns the json key of every exported field of struct type t.
func jsonFields(t reflect.Type) map[string]struct{} {
	fields := make(map[string]struct{}, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		fields[name] = struct{}{}
	}
	return fields
}
