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
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "polling", StatePolling.String())
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "stopped", StateStopped.String())
	require.Equal(t, "unknown", State(99).String())
}

func TestValueTextFormatsEachSemanticType(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	cases := []struct {
		v    Value
		want string
	}{
		{Value{Type: TypeInt64, Int64: 42}, "42"},
		{Value{Type: TypeBool, Bool: true}, "true"},
		{Value{Type: TypeString, String: "abc"}, "abc"},
		{Value{Type: TypeBytes, Bytes: []byte("xyz")}, "xyz"},
		{Value{Type: TypeTimestamp, Timestamp: ts}, ts.Format(time.RFC3339Nano)},
		{Value{Type: TypeInt64, Null: true}, ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, valueText(c.v))
	}
}

func TestSelectStatementOrdersByTsThenPrimaryKey(t *testing.T) {
	p := &Poller{
		schema: &SchemaSet{
			TableName: "orders",
			TsColumn:  "CommitTs",
			PKColumns: []string{"Id"},
			Fields: []Field{
				{Name: "Id", Type: TypeInt64, Ordinal: 0},
				{Name: "CommitTs", Type: TypeTimestamp, Ordinal: 1},
			},
		},
		cfg: PollerConfig{Table: "orders", RecordLimit: 500},
	}
	stmt := p.selectStatement(time.Now())
	require.Contains(t, stmt.SQL, "ORDER BY CommitTs, Id")
	require.Contains(t, stmt.SQL, "FROM orders")
	require.Equal(t, int64(500), stmt.Params["limit"])
}

func TestIsStaleReadErrRejectsUnrelatedErrors(t *testing.T) {
	require.False(t, isStaleReadErr(nil))
}
