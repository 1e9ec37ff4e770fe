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

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/spanner"

	"github.com/viktor-pecheniuk/spez2/pkg/config"
	"github.com/viktor-pecheniuk/spez2/pkg/dedup"
	"github.com/viktor-pecheniuk/spez2/pkg/logutil"
)

// Tailer wires C1 (schema discovery) through C6 (dispatch) into the single
// running pipeline for one source table, per spec.md §2's dataflow.
type Tailer struct {
	cfg    *config.Config
	poller *Poller
	dedupF *dedup.Filter
	disp   *Dispatcher

	stopped chan struct{}
}

// NewTailer builds and wires the full pipeline. spannerClient and topic are
// constructed by the caller (cmd/speztail's C0) so their credentials and
// lifecycle are shared across every table a single process tails.
func NewTailer(ctx context.Context, cfg *config.Config, spannerClient *spanner.Client, topic *pubsub.Topic) (*Tailer, error) {
	introspector := NewIntrospector(spannerClient)
	schema, err := introspector.Discover(ctx, cfg.DB, cfg.Table)
	if err != nil {
		return nil, err
	}
	logutil.Infof("tailer(%s): discovered schema, %d fields, ts column %q, pk %v",
		cfg.Table, len(schema.Fields), schema.TsColumn, schema.PKColumns)

	encoder, err := NewEncoder(schema)
	if err != nil {
		return nil, err
	}

	lpts := NewLptsStore(spannerClient, cfg.LptsTable)

	dedupF := dedup.New(dedup.Config{
		MaxEventCount: cfg.MaxEventCount,
		EventCacheTTL: cfg.EventCacheTTL(),
		VacuumRate:    cfg.VacuumRate(),
	})

	disp, err := NewDispatcher(DispatcherConfig{
		BucketCount: cfg.BucketCount,
		WorkerCount: cfg.WorkerCount,
		LaneDepth:   64,
		RateLimit:   cfg.PublishRateLimit,
	}, encoder, topic, cfg.Table)
	if err != nil {
		dedupF.Close()
		return nil, err
	}

	epoch, err := time.Parse(time.RFC3339Nano, cfg.EpochDefault)
	if err != nil {
		dedupF.Close()
		disp.Close(0)
		return nil, err
	}

	poller := NewPoller(spannerClient, schema, lpts, dedupF, disp, PollerConfig{
		Table:        cfg.Table,
		PollInterval: cfg.PollInterval(),
		Staleness:    cfg.Staleness(),
		RecordLimit:  cfg.RecordLimit,
		EpochDefault: epoch,
	})

	return &Tailer{
		cfg:     cfg,
		poller:  poller,
		dedupF:  dedupF,
		disp:    disp,
		stopped: make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or Stop is called, then drains the
// dispatcher and releases the dedup filter's vacuum schedule.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.stopped)
	defer t.dedupF.Close()
	err := t.poller.Start(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Stop requests a graceful shutdown and waits for Run to return.
func (t *Tailer) Stop() {
	t.poller.Stop()
	<-t.stopped
}

// State reports the poller's lifecycle state for health/debug endpoints.
func (t *Tailer) State() State { return t.poller.State() }

// Watermark reports the current lastEmittedTs for health/debug endpoints.
func (t *Tailer) Watermark() time.Time { return t.poller.Watermark() }
