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
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/viktor-pecheniuk/spez2/pkg/common/moerr"
)

// LptsStore is C3: it reads the bookkeeping row of spec.md §4.3. The tailer
// only reads; acknowledge() is the downstream cloud function's job
// (spec.md §1, "explicitly out of scope") and is not implemented here.
type LptsStore struct {
	client *spanner.Client
	table  string
}

// NewLptsStore wraps a Spanner client for reads of the single-row LPTS table.
func NewLptsStore(client *spanner.Client, table string) *LptsStore {
	return &LptsStore{client: client, table: table}
}

// ReadLpts performs a strong read of the bookkeeping table's Id=0 row. It
// returns (zero time, false, nil) if the row is absent -- the tailer then
// starts from the configured epoch default (spec.md §4.3, §6) -- and fails
// with an LptsError if the row exists but LastProcessedTimestamp does not
// parse as RFC3339Nano.
func (s *LptsStore) ReadLpts(ctx context.Context) (time.Time, bool, error) {
	txn := s.client.Single().WithTimestampBound(spanner.StrongRead())
	defer txn.Close()

	stmt := spanner.Statement{
		SQL:    `SELECT LastProcessedTimestamp FROM ` + s.table + ` WHERE Id = 0`,
		Params: map[string]any{},
	}
	iter := txn.Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, moerr.NewLptsError("read lpts table %s: %v", s.table, err)
	}

	var raw string
	if err := row.Columns(&raw); err != nil {
		return time.Time{}, false, moerr.NewLptsError("lpts row malformed: %v", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, moerr.NewLptsError("lpts value %q is not ISO-8601: %v", raw, err)
	}
	return ts.UTC(), true, nil
}
