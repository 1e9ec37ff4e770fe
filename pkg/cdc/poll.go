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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/viktor-pecheniuk/spez2/pkg/common/moerr"
	"github.com/viktor-pecheniuk/spez2/pkg/dedup"
	"github.com/viktor-pecheniuk/spez2/pkg/logutil"
	"github.com/viktor-pecheniuk/spez2/pkg/metric"
)

// State is the Poller's lifecycle state, spec.md §4.5.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PollerConfig parameterizes C5 per spec.md §6.
type PollerConfig struct {
	Table        string
	PollInterval time.Duration
	Staleness    time.Duration
	RecordLimit  int
	EpochDefault time.Time
}

// Poller is C5: the poll scheduler and streaming reader. It owns
// lastEmittedTs -- the single writer invariant of spec.md §3 -- and is the
// only component that advances it.
type Poller struct {
	client     *spanner.Client
	schema     *SchemaSet
	lpts       *LptsStore
	dedupF     *dedup.Filter
	dispatcher *Dispatcher
	cfg        PollerConfig

	mu            sync.Mutex
	state         State
	lastEmittedTs time.Time

	running atomic.Bool // re-entrancy guard: a tick is skipped if the prior cycle has not returned
	cycle   atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPoller wires C5 to its upstream (C3 for recovery, C4 for dedup) and
// downstream (C6 for hand-off) collaborators.
func NewPoller(client *spanner.Client, schema *SchemaSet, lpts *LptsStore, dedupF *dedup.Filter, dispatcher *Dispatcher, cfg PollerConfig) *Poller {
	return &Poller{
		client:     client,
		schema:     schema,
		lpts:       lpts,
		dedupF:     dedupF,
		dispatcher: dispatcher,
		cfg:        cfg,
		state:      StateIdle,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Watermark reports lastEmittedTs for observability and tests.
func (p *Poller) Watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastEmittedTs
}

// Start recovers lastEmittedTs (spec.md §4.3: first successful LPTS read
// adopts it as the starting watermark; otherwise the configured epoch
// default) and then runs the poll loop until ctx is cancelled or Stop is
// called. It blocks until the loop has fully drained and returns.
func (p *Poller) Start(ctx context.Context) error {
	recovered, found, err := p.lpts.ReadLpts(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if found {
		p.lastEmittedTs = recovered
	} else {
		p.lastEmittedTs = p.cfg.EpochDefault
	}
	p.state = StateIdle
	p.mu.Unlock()
	logutil.Infof("poll(%s): starting watermark %s (recovered=%v)", p.cfg.Table, p.lastEmittedTs.Format(time.RFC3339Nano), found)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	defer close(p.doneCh)

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case <-p.stopCh:
			p.drain()
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop requests a graceful shutdown; Start returns once the in-flight cycle
// (if any) completes and the dispatcher has drained.
func (p *Poller) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

func (p *Poller) drain() {
	p.mu.Lock()
	p.state = StateDraining
	p.mu.Unlock()

	p.dispatcher.Close(30 * time.Second)

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
}

// tick runs one poll cycle, skipping it entirely if the previous cycle is
// still in flight -- the re-entrancy guard of spec.md §4.5.
func (p *Poller) tick(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		logutil.Warnf("poll(%s): tick skipped, previous cycle still running", p.cfg.Table)
		return
	}
	defer p.running.Store(false)

	n := p.cycle.Add(1)
	correlationID := uuid.New().String()
	start := time.Now()

	p.mu.Lock()
	p.state = StatePolling
	p.mu.Unlock()

	if err := p.runCycle(ctx, correlationID); err != nil {
		logutil.Errorf("poll(%s): cycle %d [%s] failed: %v", p.cfg.Table, n, correlationID, err)
	}

	p.mu.Lock()
	p.state = StateIdle
	watermark := p.lastEmittedTs
	p.mu.Unlock()

	metric.PollCycleDuration.WithLabelValues(p.cfg.Table).Observe(time.Since(start).Seconds())
	metric.LastEmittedTsUnixNanos.WithLabelValues(p.cfg.Table).Set(float64(watermark.UnixNano()))
}

// runCycle performs a single bounded-stale streaming read starting from
// lastEmittedTs, validating/deduping/dispatching each row in commit-ts
// order, and advancing lastEmittedTs as rows are accepted (spec.md §4.5).
func (p *Poller) runCycle(ctx context.Context, correlationID string) error {
	p.mu.Lock()
	from := p.lastEmittedTs
	p.mu.Unlock()

	txn := p.client.Single().WithTimestampBound(spanner.ExactStaleness(p.cfg.Staleness))
	defer txn.Close()

	stmt := p.selectStatement(from)
	iter := txn.Query(ctx, stmt)
	defer iter.Stop()

	count := 0
	for {
		sr, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if isStaleReadErr(err) {
				logutil.Warnf("poll(%s): cycle [%s] stale read, ending cycle; watermark stays at the last handed-off row (cycle started from %s)", p.cfg.Table, correlationID, from.Format(time.RFC3339Nano))
				return nil
			}
			return moerr.NewTransientReadError("cycle [%s] streaming query failed: %v", correlationID, err)
		}

		row, err := p.scanRow(sr)
		if err != nil {
			return moerr.NewTransientReadError("cycle [%s] row decode failed: %v", correlationID, err)
		}

		if !row.CommitTs.After(from) {
			// The query's strict "> @from" predicate already filters this out;
			// defensive check against a misbehaving driver or clock skew
			// (spec.md §7, "validate").
			continue
		}

		key := p.dedupF.Key(row.PrimaryKey, row.CommitTs)
		if p.dedupF.IsFresh(key, row.CommitTs) {
			tsText := row.CommitTs.UTC().Format(time.RFC3339Nano)
			if err := p.dispatcher.Submit(ctx, row, tsText); err != nil {
				return moerr.NewTransientReadError("cycle [%s] dispatch hand-off failed: %v", correlationID, err)
			}
		} else {
			metric.RowsSuppressedTotal.WithLabelValues(p.cfg.Table).Inc()
		}

		p.mu.Lock()
		p.lastEmittedTs = row.CommitTs
		p.mu.Unlock()

		count++
		if count >= p.cfg.RecordLimit {
			logutil.Infof("poll(%s): cycle [%s] hit record limit %d, resuming next tick", p.cfg.Table, correlationID, p.cfg.RecordLimit)
			break
		}
	}
	return nil
}

// selectStatement builds the ordered streaming query of spec.md §4.5: rows
// with commit timestamp strictly greater than the current watermark,
// ordered by commit timestamp then primary key so dedup and watermark
// advancement see a stable total order and a steady-state poll with no new
// commits returns zero rows.
func (p *Poller) selectStatement(from time.Time) spanner.Statement {
	names := make([]string, 0, len(p.schema.Fields))
	for _, f := range p.schema.Fields {
		names = append(names, f.Name)
	}
	orderBy := append([]string{p.schema.TsColumn}, p.schema.PKColumns...)

	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > @from ORDER BY %s LIMIT @limit",
		strings.Join(names, ", "), p.cfg.Table, p.schema.TsColumn, strings.Join(orderBy, ", "),
	)
	return spanner.Statement{
		SQL: sql,
		Params: map[string]any{
			"from":  from,
			"limit": int64(p.cfg.RecordLimit),
		},
	}
}

// scanRow decodes a Spanner row into a Row, matching the field order of
// selectStatement. The primary key bytes used for dedup keys and dispatch
// routing are the canonical string encoding of the row's PKColumns values,
// joined by a NUL separator.
func (p *Poller) scanRow(sr *spanner.Row) (*Row, error) {
	values := make([]Value, len(p.schema.Fields))
	byName := make(map[string]Value, len(p.schema.Fields))

	for i, f := range p.schema.Fields {
		v, err := decodeColumn(sr, i, f)
		if err != nil {
			return nil, err
		}
		values[i] = v
		byName[f.Name] = v
	}

	var commitTs time.Time
	if ts, ok := byName[p.schema.TsColumn]; ok && !ts.Null {
		commitTs = ts.Timestamp
	}

	var pkParts []string
	for _, name := range p.schema.PKColumns {
		pkParts = append(pkParts, valueText(byName[name]))
	}
	pk := []byte(strings.Join(pkParts, "\x00"))

	return &Row{
		PrimaryKey: pk,
		CommitTs:   commitTs,
		Columns:    values,
		SizeBytes:  sr.Size(),
	}, nil
}

func decodeColumn(sr *spanner.Row, idx int, f Field) (Value, error) {
	switch f.Type {
	case TypeInt64:
		var n spanner.NullInt64
		if err := sr.Column(idx, &n); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeInt64, Null: !n.Valid, Int64: n.Int64}, nil
	case TypeFloat64:
		var n spanner.NullFloat64
		if err := sr.Column(idx, &n); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeFloat64, Null: !n.Valid, Float64: n.Float64}, nil
	case TypeBool:
		var n spanner.NullBool
		if err := sr.Column(idx, &n); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeBool, Null: !n.Valid, Bool: n.Bool}, nil
	case TypeString:
		var n spanner.NullString
		if err := sr.Column(idx, &n); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeString, Null: !n.Valid, String: n.StringVal}, nil
	case TypeBytes:
		var b []byte
		if err := sr.Column(idx, &b); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeBytes, Null: b == nil, Bytes: b}, nil
	case TypeTimestamp:
		var n spanner.NullTime
		if err := sr.Column(idx, &n); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeTimestamp, Null: !n.Valid, Timestamp: n.Time}, nil
	case TypeDate:
		var n spanner.NullDate
		if err := sr.Column(idx, &n); err != nil {
			return Value{}, err
		}
		t := time.Time{}
		if n.Valid {
			t = time.Date(n.Date.Year, n.Date.Month, n.Date.Day, 0, 0, 0, 0, time.UTC)
		}
		return Value{Type: TypeDate, Null: !n.Valid, Date: t}, nil
	default:
		return Value{}, moerr.NewEncodeError("column %q: unsupported semantic type %v", f.Name, f.Type)
	}
}

func valueText(v Value) string {
	if v.Null {
		return ""
	}
	switch v.Type {
	case TypeInt64:
		return fmt.Sprintf("%d", v.Int64)
	case TypeFloat64:
		return fmt.Sprintf("%g", v.Float64)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeString:
		return v.String
	case TypeBytes:
		return string(v.Bytes)
	case TypeTimestamp:
		return v.Timestamp.UTC().Format(time.RFC3339Nano)
	case TypeDate:
		return civil.DateOf(v.Date).String()
	default:
		return ""
	}
}

// isStaleReadErr reports whether err is Spanner's FailedPrecondition
// "too stale" class of error, the bounded-stale-read analogue of the
// teacher's moerr.ErrStaleRead check in reader.go.
func isStaleReadErr(err error) bool {
	return spanner.ErrCode(err) == codes.FailedPrecondition
}
