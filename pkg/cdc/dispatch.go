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
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/axiomhq/hyperloglog"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"

	"github.com/viktor-pecheniuk/spez2/pkg/common/moerr"
	"github.com/viktor-pecheniuk/spez2/pkg/logutil"
	"github.com/viktor-pecheniuk/spez2/pkg/metric"
	"github.com/viktor-pecheniuk/spez2/pkg/util/consistenthash"
)

// DispatcherConfig parameterizes C6 per spec.md §6's bucketCount/workerCount
// options and SPEC_FULL.md's publishRateLimit expansion.
type DispatcherConfig struct {
	BucketCount int
	WorkerCount int
	LaneDepth   int // buffered channel capacity per lane; the "ring" size
	RateLimit   int // publishes/sec, 0 disables throttling
}

// Dispatcher is C6: it accepts (row, tsString) from C5, computes a routing
// bucket by consistent hash of the primary key, encodes the row via C2, and
// publishes to a fixed-arity hand-off buffer where each lane preserves FIFO
// order (spec.md §4.6).
type Dispatcher struct {
	cfg     DispatcherConfig
	encoder *Encoder
	topic   *pubsub.Topic
	table   string

	lanes []chan laneItem
	pool  *ants.Pool

	limiter ratelimit.Limiter

	hllMu sync.Mutex
	hll   *hyperloglog.Sketch

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

type laneItem struct {
	row     *Row
	tsText  string
	doneErr chan<- error // nil if the caller doesn't want a completion signal
}

// NewDispatcher builds the lanes and worker pool. Call Close to drain and
// stop it.
func NewDispatcher(cfg DispatcherConfig, encoder *Encoder, topic *pubsub.Topic, table string) (*Dispatcher, error) {
	if cfg.BucketCount <= 0 {
		return nil, moerr.NewConfigError("bucketCount must be > 0")
	}
	if cfg.WorkerCount <= 0 {
		return nil, moerr.NewConfigError("workerCount must be > 0")
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 64
	}

	pool, err := ants.NewPool(cfg.WorkerCount)
	if err != nil {
		return nil, moerr.NewConfigError("build worker pool: %v", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit)
	} else {
		limiter = ratelimit.NewUnlimited()
	}

	d := &Dispatcher{
		cfg:     cfg,
		encoder: encoder,
		topic:   topic,
		table:   table,
		lanes:   make([]chan laneItem, cfg.BucketCount),
		pool:    pool,
		limiter: limiter,
		hll:     hyperloglog.New(),
		stopped: make(chan struct{}),
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan laneItem, cfg.LaneDepth)
	}
	d.startLanes()
	return d, nil
}

// startLanes launches one coordinator goroutine per lane. Each coordinator
// submits its lane's head item to the shared ants pool and blocks until
// that submission completes before taking the next item, which is what
// gives "within a lane, order is FIFO" (spec.md §5) while bounding total
// concurrency to WorkerCount across every lane.
func (d *Dispatcher) startLanes() {
	for i := range d.lanes {
		d.wg.Add(1)
		go func(lane chan laneItem) {
			defer d.wg.Done()
			for item := range lane {
				done := make(chan struct{})
				err := d.pool.Submit(func() {
					defer close(done)
					perr := d.process(item.row, item.tsText)
					if item.doneErr != nil {
						item.doneErr <- perr
					}
				})
				if err != nil {
					logutil.Errorf("dispatch: pool submit failed: %v", err)
					if item.doneErr != nil {
						item.doneErr <- err
					}
					continue
				}
				<-done
			}
		}(d.lanes[i])
	}
}

// Submit implements C5's hand-off: it blocks if the target lane's ring is
// full (spec.md §4.6, "if the ring is full, the dispatcher blocks C5; C5
// must not drop rows") and returns once the row is accepted into the lane,
// not once it has been published -- the encode+publish happens
// asynchronously in the lane's coordinator goroutine.
func (d *Dispatcher) Submit(ctx context.Context, row *Row, tsText string) error {
	bucket := consistenthash.Bucket(row.PrimaryKey, d.cfg.BucketCount)
	select {
	case d.lanes[bucket] <- laneItem{row: row, tsText: tsText}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process encodes and publishes a single row. Encode and publish failures
// are logged here and returned to the lane coordinator, which does not retry
// them; the watermark has already advanced past this row by the time C6
// sees it (spec.md §7).
func (d *Dispatcher) process(row *Row, tsText string) error {
	encoded, err := d.encoder.Encode(row)
	if err != nil {
		metric.EncodeErrorsTotal.WithLabelValues(d.table).Inc()
		logutil.Errorf("dispatch: encode failed for table %s: %v", d.table, err)
		return err
	}

	metric.MessageSizeHistogram.WithLabelValues(d.table).Observe(float64(len(encoded)))
	d.observeKey(row.PrimaryKey)

	d.limiter.Take()
	result := d.topic.Publish(context.Background(), &pubsub.Message{
		Data: encoded,
		Attributes: map[string]string{
			"tableName":       d.table,
			"commitTimestamp": tsText,
		},
	})
	if _, err := result.Get(context.Background()); err != nil {
		logutil.Errorf("dispatch: publish failed for table %s: %v", d.table, err)
		return err
	}

	metric.RowsEmittedTotal.WithLabelValues(d.table).Inc()
	return nil
}

func (d *Dispatcher) observeKey(pk []byte) {
	d.hllMu.Lock()
	d.hll.Insert(pk)
	estimate := d.hll.Estimate()
	d.hllMu.Unlock()
	metric.UniqueKeysEstimate.WithLabelValues(d.table).Set(float64(estimate))
}

// Close drains every lane (closing them so their coordinators exit once
// empty) and releases the worker pool. Used during the Draining->Stopped
// transition of spec.md §4.5's state machine.
func (d *Dispatcher) Close(drainTimeout time.Duration) {
	d.stopOnce.Do(func() {
		for _, lane := range d.lanes {
			close(lane)
		}
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			logutil.Warnf("dispatch: drain timeout after %s, some hand-offs may be incomplete", drainTimeout)
		}
		d.pool.Release()
		close(d.stopped)
	})
}
