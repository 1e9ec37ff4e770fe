// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cdc

import (
	"github.com/hamba/avro/v2"
	"github.com/segmentio/encoding/json"

	"github.com/viktor-pecheniuk/spez2/pkg/common/moerr"
)

// avroSchemaDoc and avroFieldDoc mirror the handful of Avro schema JSON
// fields C2 needs to emit; segmentio/encoding/json marshals them
// deterministically (stable key order, no reflection surprises) to build
// SchemaSet.AvroJSON.
type avroSchemaDoc struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Namespace string         `json:"namespace"`
	Fields    []avroFieldDoc `json:"fields"`
}

type avroFieldDoc struct {
	Name string `json:"name"`
	Type any    `json:"type"`
}

// wireType implements the DB-type -> Avro-equivalent mapping table of
// spec.md §4.2. logicalType is documentation for downstream consumers; the
// Go value handed to Marshal for that field is always the already-converted
// raw wire primitive (see toAvroValue), so the logical annotation does not
// change how Marshal encodes it.
func wireType(t SemanticType) (primitive, logicalType string, err error) {
	switch t {
	case TypeInt64:
		return "long", "", nil
	case TypeFloat64:
		return "double", "", nil
	case TypeBool:
		return "boolean", "", nil
	case TypeString:
		return "string", "", nil
	case TypeBytes:
		return "bytes", "", nil
	case TypeTimestamp:
		return "long", "timestamp-micros", nil
	case TypeDate:
		return "int", "date", nil
	default:
		return "", "", moerr.NewSchemaError("no wire type for semantic type %v", t)
	}
}

func buildAvroSchema(ss *SchemaSet) (string, error) {
	doc := avroSchemaDoc{
		Type:      "record",
		Name:      sanitizeAvroName(ss.TableName),
		Namespace: sanitizeAvroName(ss.Namespace),
	}
	for _, f := range ss.Fields {
		primitive, logical, err := wireType(f.Type)
		if err != nil {
			return "", err
		}
		fieldType := map[string]any{"type": primitive}
		if logical != "" {
			fieldType["logicalType"] = logical
		}
		var avroType any = fieldType
		if f.Nullable {
			avroType = []any{"null", fieldType}
		}
		doc.Fields = append(doc.Fields, avroFieldDoc{Name: f.Name, Type: avroType})
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func sanitizeAvroName(s string) string {
	out := make([]rune, 0, len(s))
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			out = append(out, r)
		case r >= '0' && r <= '9':
			if i == 0 {
				out = append(out, '_')
			}
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

// Encoder is C2: it turns a Row into Avro-encoded bytes per the parsed
// SchemaSet.AvroJSON schema. encode(row) is referentially transparent
// (spec.md §4.2): the same row always marshals to the same bytes, since
// Marshal is a pure function of the parsed schema and the native value map
// built from the row.
type Encoder struct {
	schema *SchemaSet
	parsed avro.Schema
}

// NewEncoder parses SchemaSet.AvroJSON once; reused for every Encode call.
func NewEncoder(ss *SchemaSet) (*Encoder, error) {
	parsed, err := avro.Parse(ss.AvroJSON)
	if err != nil {
		return nil, moerr.NewSchemaError("parse avro schema: %v", err)
	}
	return &Encoder{schema: ss, parsed: parsed}, nil
}

// Encode implements encode(row) -> bytes. It fails with an EncodeError if a
// column's runtime SemanticType does not match its declared column type;
// per spec.md §4.2 it never attempts coercion.
func (e *Encoder) Encode(row *Row) ([]byte, error) {
	if len(row.Columns) != len(e.schema.Fields) {
		return nil, moerr.NewEncodeError(
			"row has %d columns, schema has %d", len(row.Columns), len(e.schema.Fields))
	}

	native := make(map[string]any, len(row.Columns))
	for i, field := range e.schema.Fields {
		val := row.Columns[i]
		if val.Type != field.Type {
			return nil, moerr.NewEncodeError(
				"column %q: declared type %v, value has type %v", field.Name, field.Type, val.Type)
		}
		v, err := toAvroValue(val, field.Nullable)
		if err != nil {
			return nil, err
		}
		native[field.Name] = v
	}

	return avro.Marshal(e.parsed, native)
}

// toAvroValue converts a Value to the native Go representation Marshal
// expects, per the wire-type table in wireType. Nullable columns use *T so
// hamba/avro resolves the ["null", T] union from a nil/non-nil pointer.
func toAvroValue(v Value, nullable bool) (any, error) {
	if v.Null {
		if !nullable {
			return nil, moerr.NewEncodeError("column declared NOT NULL but value is null")
		}
		return nil, nil
	}
	switch v.Type {
	case TypeInt64:
		return wrapNullable(nullable, v.Int64), nil
	case TypeFloat64:
		return wrapNullable(nullable, v.Float64), nil
	case TypeBool:
		return wrapNullable(nullable, v.Bool), nil
	case TypeString:
		return wrapNullable(nullable, v.String), nil
	case TypeBytes:
		return wrapNullable(nullable, v.Bytes), nil
	case TypeTimestamp:
		return wrapNullable(nullable, v.Timestamp.UnixMicro()), nil
	case TypeDate:
		days := int32(floorDivInt64(v.Date.UTC().Unix(), 86400))
		return wrapNullable(nullable, days), nil
	default:
		return nil, moerr.NewEncodeError("unsupported value type %v", v.Type)
	}
}

func wrapNullable[T any](nullable bool, v T) any {
	if !nullable {
		return v
	}
	return &v
}

// floorDivInt64 divides a by b (b > 0), rounding toward negative infinity
// rather than Go's default truncation toward zero -- needed so
// days-since-epoch for a pre-1970 timestamp lands on the correct day instead
// of off by one.
func floorDivInt64(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
