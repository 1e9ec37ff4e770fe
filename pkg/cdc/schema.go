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
	"sort"

	"cloud.google.com/go/spanner"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/viktor-pecheniuk/spez2/pkg/common/moerr"
)

// Introspector is C1: it discovers the SchemaSet of a source table.
type Introspector struct {
	client *spanner.Client
}

// NewIntrospector wraps a Spanner client for catalog queries.
func NewIntrospector(client *spanner.Client) *Introspector {
	return &Introspector{client: client}
}

type columnRow struct {
	name     string
	semantic SemanticType
	nullable bool
	ordinal  int
}

type optionRow struct {
	column               string
	allowCommitTimestamp bool
}

// Discover implements spec.md §4.1: discover(projectId, instance, db, table)
// -> SchemaSet. namespace identifies the database for the Avro schema's
// namespace field. It fails with a SchemaError if the table does not exist,
// no column has allow_commit_timestamp=TRUE, or the catalog is unreachable.
//
// The three catalog queries -- column list, primary-key columns, and column
// options -- are issued concurrently over one read-only transaction, per
// SPEC_FULL.md §4.1.
func (in *Introspector) Discover(ctx context.Context, namespace, table string) (*SchemaSet, error) {
	txn := in.client.ReadOnlyTransaction()
	defer txn.Close()

	var columns []columnRow
	var pkColumns []string
	var options []optionRow

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		columns, err = queryColumns(gctx, txn, table)
		return err
	})
	g.Go(func() (err error) {
		pkColumns, err = queryPrimaryKey(gctx, txn, table)
		return err
	})
	g.Go(func() (err error) {
		options, err = queryColumnOptions(gctx, txn, table)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, moerr.NewSchemaError("discover schema for %s: %v", table, err)
	}

	if len(columns) == 0 {
		return nil, moerr.NewSchemaError("table %q does not exist or has no columns", table)
	}

	tsColumn, err := commitTsColumn(columns, options)
	if err != nil {
		return nil, err
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].ordinal < columns[j].ordinal })

	fields := lo.Map(columns, func(c columnRow, _ int) Field {
		return Field{Name: c.name, Type: c.semantic, Nullable: c.nullable, Ordinal: c.ordinal}
	})

	ss := &SchemaSet{
		Namespace: namespace,
		TableName: table,
		TsColumn:  tsColumn,
		PKColumns: pkColumns,
		Fields:    fields,
	}
	avroJSON, err := buildAvroSchema(ss)
	if err != nil {
		return nil, moerr.NewSchemaError("build avro schema for %s: %v", table, err)
	}
	ss.AvroJSON = avroJSON
	return ss, nil
}

// commitTsColumn picks "the first column whose option allow_commit_timestamp
// is TRUE; if more than one, the one with lowest ordinal position wins"
// (spec.md §4.1).
func commitTsColumn(columns []columnRow, options []optionRow) (string, error) {
	ordinalByName := make(map[string]int, len(columns))
	for _, c := range columns {
		ordinalByName[c.name] = c.ordinal
	}

	best := ""
	bestOrdinal := -1
	for _, o := range options {
		if !o.allowCommitTimestamp {
			continue
		}
		ordinal, ok := ordinalByName[o.column]
		if !ok {
			continue
		}
		if bestOrdinal == -1 || ordinal < bestOrdinal {
			best = o.column
			bestOrdinal = ordinal
		}
	}
	if best == "" {
		return "", moerr.NewSchemaError("no column has allow_commit_timestamp enabled")
	}
	return best, nil
}

func queryColumns(ctx context.Context, txn *spanner.ReadOnlyTransaction, table string) ([]columnRow, error) {
	stmt := spanner.Statement{
		SQL: `SELECT column_name, spanner_type, is_nullable, ordinal_position
		      FROM information_schema.columns
		      WHERE table_name = @table
		      ORDER BY ordinal_position`,
		Params: map[string]any{"table": table},
	}
	iter := txn.Query(ctx, stmt)
	defer iter.Stop()

	var out []columnRow
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var name, spannerType, isNullable string
		var ordinal int64
		if err := row.Columns(&name, &spannerType, &isNullable, &ordinal); err != nil {
			return nil, err
		}
		sem, err := mapSemanticType(spannerType)
		if err != nil {
			return nil, err
		}
		out = append(out, columnRow{
			name:     name,
			semantic: sem,
			nullable: isNullable == "YES",
			ordinal:  int(ordinal),
		})
	}
	return out, nil
}

func queryPrimaryKey(ctx context.Context, txn *spanner.ReadOnlyTransaction, table string) ([]string, error) {
	stmt := spanner.Statement{
		SQL: `SELECT column_name
		      FROM information_schema.key_column_usage
		      WHERE table_name = @table AND constraint_name LIKE 'PK_%'
		      ORDER BY ordinal_position`,
		Params: map[string]any{"table": table},
	}
	iter := txn.Query(ctx, stmt)
	defer iter.Stop()

	var out []string
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var name string
		if err := row.Columns(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func queryColumnOptions(ctx context.Context, txn *spanner.ReadOnlyTransaction, table string) ([]optionRow, error) {
	stmt := spanner.Statement{
		SQL: `SELECT column_name, option_name, option_value
		      FROM information_schema.column_options
		      WHERE table_name = @table`,
		Params: map[string]any{"table": table},
	}
	iter := txn.Query(ctx, stmt)
	defer iter.Stop()

	var out []optionRow
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var column, optionName, optionValue string
		if err := row.Columns(&column, &optionName, &optionValue); err != nil {
			return nil, err
		}
		if optionName == "allow_commit_timestamp" {
			out = append(out, optionRow{column: column, allowCommitTimestamp: optionValue == "TRUE"})
		}
	}
	return out, nil
}

// mapSemanticType implements the DB-type row of spec.md §4.2's mapping
// table, reading Spanner's own type spelling from information_schema.
func mapSemanticType(spannerType string) (SemanticType, error) {
	switch {
	case spannerType == "INT64":
		return TypeInt64, nil
	case spannerType == "FLOAT64":
		return TypeFloat64, nil
	case spannerType == "BOOL":
		return TypeBool, nil
	case spannerType == "TIMESTAMP":
		return TypeTimestamp, nil
	case spannerType == "DATE":
		return TypeDate, nil
	case len(spannerType) >= 6 && spannerType[:6] == "STRING":
		return TypeString, nil
	case len(spannerType) >= 5 && spannerType[:5] == "BYTES":
		return TypeBytes, nil
	default:
		return 0, moerr.NewSchemaError("unsupported spanner type %q", spannerType)
	}
}
