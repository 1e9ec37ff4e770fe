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

// Package cdc is the core of the tailer: schema discovery (C1), codec
// construction (C2), LPTS recovery (C3), deduplication (C4, in pkg/dedup),
// the poll scheduler and streaming reader (C5), and the event dispatcher
// (C6). See SPEC_FULL.md §4 for the component table this package implements.
package cdc

import "time"

// SemanticType is one of the DB column types spec.md §4.2 maps to an
// Avro-equivalent wire type.
type SemanticType int

const (
	TypeInt64 SemanticType = iota
	TypeFloat64
	TypeBool
	TypeString
	TypeBytes
	TypeTimestamp
	TypeDate
)

func (t SemanticType) String() string {
	switch t {
	case TypeInt64:
		return "INT64"
	case TypeFloat64:
		return "FLOAT64"
	case TypeBool:
		return "BOOL"
	case TypeString:
		return "STRING"
	case TypeBytes:
		return "BYTES"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeDate:
		return "DATE"
	default:
		return "UNKNOWN"
	}
}

// Field is one column of the source table, in catalog ordinal order.
type Field struct {
	Name     string
	Type     SemanticType
	Nullable bool
	Ordinal  int
}

// SchemaSet is the immutable descriptor of spec.md §3 "Schema set":
// constructed once per tailer lifetime from C1's discover() and handed to
// C2 to build an Encoder.
type SchemaSet struct {
	Namespace string
	TableName string
	TsColumn  string
	PKColumns []string
	Fields    []Field

	// AvroJSON is the serialised Avro-compatible destination schema.
	AvroJSON string
}

// Value is one typed column value inside a Row. Exactly one of the typed
// fields is meaningful, selected by Type; Null true means the SQL value was
// NULL regardless of what the zero-valued typed field holds.
type Value struct {
	Type      SemanticType
	Null      bool
	Int64     int64
	Float64   float64
	Bool      bool
	String    string
	Bytes     []byte
	Timestamp time.Time
	Date      time.Time // day-granularity; time-of-day is always zeroed
}

// Row is the ordered map<name, typed value> of spec.md §3, materialized as
// a slice to preserve catalog ordinal order without relying on Go map
// iteration order.
type Row struct {
	PrimaryKey []byte
	CommitTs   time.Time
	Columns    []Value // parallel to SchemaSet.Fields
	SizeBytes  int
}

// RowEvent is spec.md §3's row event tuple, the unit C5 produces and hands
// off to C6.
type RowEvent = Row
