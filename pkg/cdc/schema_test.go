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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapSemanticType(t *testing.T) {
	cases := map[string]SemanticType{
		"INT64":       TypeInt64,
		"FLOAT64":     TypeFloat64,
		"BOOL":        TypeBool,
		"TIMESTAMP":   TypeTimestamp,
		"DATE":        TypeDate,
		"STRING(MAX)": TypeString,
		"STRING(64)":  TypeString,
		"BYTES(MAX)":  TypeBytes,
	}
	for spannerType, want := range cases {
		got, err := mapSemanticType(spannerType)
		require.NoError(t, err, spannerType)
		require.Equal(t, want, got, spannerType)
	}
}

func TestMapSemanticTypeRejectsUnknown(t *testing.T) {
	_, err := mapSemanticType("ARRAY<INT64>")
	require.Error(t, err)
}

func TestCommitTsColumnPicksLowestOrdinalAmongEnabled(t *testing.T) {
	columns := []columnRow{
		{name: "Id", semantic: TypeInt64, ordinal: 0},
		{name: "UpdatedAt", semantic: TypeTimestamp, ordinal: 1},
		{name: "CommitTs", semantic: TypeTimestamp, ordinal: 2},
	}
	options := []optionRow{
		{column: "CommitTs", allowCommitTimestamp: true},
		{column: "UpdatedAt", allowCommitTimestamp: true},
	}
	got, err := commitTsColumn(columns, options)
	require.NoError(t, err)
	require.Equal(t, "UpdatedAt", got, "lowest ordinal among allow_commit_timestamp columns must win")
}

func TestCommitTsColumnFailsWhenNoneEnabled(t *testing.T) {
	columns := []columnRow{{name: "Id", semantic: TypeInt64, ordinal: 0}}
	_, err := commitTsColumn(columns, nil)
	require.Error(t, err)
}

func TestCommitTsColumnIgnoresOptionsForUnknownColumns(t *testing.T) {
	columns := []columnRow{{name: "Id", semantic: TypeInt64, ordinal: 0}}
	options := []optionRow{{column: "Ghost", allowCommitTimestamp: true}}
	_, err := commitTsColumn(columns, options)
	require.Error(t, err)
}
