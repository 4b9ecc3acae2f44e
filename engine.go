// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/featurebasedb/bulkload/errors"
	"github.com/featurebasedb/bulkload/logger"
)

// State is the phase of a load.
type State int32

const (
	StateIdle State = iota
	StateBatching
	StateDispatching
	StateAwaiting
	StateReducing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatching:
		return "batching"
	case StateDispatching:
		return "dispatching"
	case StateAwaiting:
		return "awaiting"
	case StateReducing:
		return "reducing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Engine loads records into the store: it cuts them into batches, writes
// up to a fixed number of batches concurrently, and sums the per-batch
// tallies. An Engine runs one load at a time.
type Engine struct {
	writer    BulkWriter
	batchSize int
	throttle  int
	logger    logger.Logger

	state int32
}

// EngineOption configures an Engine.
type EngineOption func(e *Engine) error

// OptEngineBatchSize sets the number of records per batch.
func OptEngineBatchSize(n int) EngineOption {
	return func(e *Engine) error {
		if n < 1 {
			return errors.Newf(errors.ErrInvalidConfig, "batch size must be at least 1, got %d", n)
		}
		e.batchSize = n
		return nil
	}
}

// OptEngineThrottle sets the maximum number of batch writes in flight.
func OptEngineThrottle(n int) EngineOption {
	return func(e *Engine) error {
		if n < 1 {
			return errors.Newf(errors.ErrInvalidConfig, "throttle must be at least 1, got %d", n)
		}
		e.throttle = n
		return nil
	}
}

func OptEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// NewEngine returns an Engine writing through w.
func NewEngine(w BulkWriter, opts ...EngineOption) (*Engine, error) {
	if w == nil {
		return nil, errors.New(errors.ErrInvalidConfig, "nil BulkWriter")
	}
	e := &Engine{
		writer:    w,
		batchSize: DefaultBatchSize,
		throttle:  DefaultThrottle,
		logger:    logger.NopLogger,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// State returns the phase of the current or most recent load.
func (e *Engine) State() State {
	return State(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s State) {
	atomic.StoreInt32(&e.state, int32(s))
}

// Load writes records and returns the tally of the whole run.
func (e *Engine) Load(ctx context.Context, records []Record) (Tally, error) {
	src := NewSliceSource(records)
	e.logger.Debugf("loading %d records in %d batches", src.Len(), BatchCount(src.Len(), e.batchSize))
	return e.LoadSource(ctx, src)
}

// LoadSource reads src to exhaustion and writes its records. It returns
// either the complete tally, or the first fatal error and an empty tally.
// Fatal errors are write errors, malformed responses, source errors, and
// cancellation of ctx. After a fatal error no further batches are started,
// in-flight writes are cancelled, and LoadSource still waits for all of
// them to return. Documents the store rejects are not errors; they are
// counted as failed.
func (e *Engine) LoadSource(ctx context.Context, src Source) (Tally, error) {
	start := time.Now()
	e.setState(StateBatching)
	batcher, err := NewBatcher(src, e.batchSize)
	if err != nil {
		e.setState(StateFailed)
		return Tally{}, err
	}
	throttle, err := NewThrottle(e.throttle)
	if err != nil {
		e.setState(StateFailed)
		return Tally{}, err
	}

	// A failing batch cancels gctx, which stops dispatch and the other
	// in-flight writes. A source failure does the same through fail.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var acc tallyAccumulator
	var dispatchErr error
	dispatched := 0

	// writes cancelled by an earlier failure return ctx errors, which may
	// reach the group first; keep the failure that caused the cancel.
	var firstErr error
	var failOnce sync.Once
	fail := func(err error) {
		failOnce.Do(func() { firstErr = err })
		cancel()
	}

	e.setState(StateDispatching)
	for {
		// Stop reading once a batch has failed or the caller gave up.
		if err := gctx.Err(); err != nil {
			dispatchErr = errors.Wrapf(err, "reading batch %d", dispatched)
			break
		}
		batch, err := batcher.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			if gctx.Err() == nil {
				fail(err)
			}
			break
		}
		// Acquire can succeed on a done context when a permit is free, so
		// check for an earlier failure first.
		err = gctx.Err()
		if err == nil {
			err = throttle.Acquire(gctx)
			// A failing batch cancels before it releases its permit.
			if err == nil && gctx.Err() != nil {
				throttle.Release()
				err = gctx.Err()
			}
		}
		if err != nil {
			// Either a batch failed, in which case g.Wait reports why,
			// or the caller gave up.
			dispatchErr = errors.Wrapf(err, "dispatching batch %d", batch.Seq)
			break
		}
		dispatched++
		g.Go(func() error {
			defer throttle.Release()
			t, err := e.writeBatch(gctx, batch)
			if err != nil {
				if gctx.Err() == nil {
					fail(err)
				}
				return err
			}
			acc.add(t)
			return nil
		})
	}

	e.setState(StateAwaiting)
	inFlight := throttle.InFlight()
	werr := g.Wait()
	switch {
	case firstErr != nil:
		// Later errors, including those of writes cancelled because of
		// it, are only a consequence.
		werr = firstErr
	case werr == nil && dispatchErr != nil:
		werr = dispatchErr
	case werr == nil:
		// Cancellation between the last dispatch and Wait leaves no error
		// behind in the group; check the caller's context too.
		werr = ctx.Err()
	}
	if werr != nil {
		e.setState(StateFailed)
		e.logger.Errorf("load failed after dispatching %d batches (%d of %d writes in flight, %d records read) in %v: %v",
			dispatched, inFlight, throttle.Size(), batcher.Position(), time.Since(start), werr)
		return Tally{}, werr
	}

	e.setState(StateReducing)
	total := acc.reduce()
	if !total.Valid() || total.Total != batcher.Position() {
		e.setState(StateFailed)
		return Tally{}, errors.Newf(errors.ErrMalformedResponse,
			"tallied %v but read %d records", total, batcher.Position())
	}
	e.setState(StateDone)
	e.logger.Infof("loaded %d batches in %v: %v", dispatched, time.Since(start), total)
	return total, nil
}

// writeBatch writes a single batch and tallies the response.
func (e *Engine) writeBatch(ctx context.Context, batch Batch) (Tally, error) {
	start := time.Now()
	outcomes, err := e.writer.Write(ctx, batch)
	HistogramBatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		CounterBatches.WithLabelValues("error").Inc()
		return Tally{}, errors.Wrapf(err, "writing batch %d (ids %d-%d)", batch.Seq, batch.StartID, batch.EndID()-1)
	}
	t, err := TallyOutcomes(batch, outcomes)
	if err != nil {
		CounterBatches.WithLabelValues("error").Inc()
		return Tally{}, err
	}
	CounterBatches.WithLabelValues("ok").Inc()
	CounterDocuments.WithLabelValues(OutcomeCreated.String()).Add(float64(t.Created))
	CounterDocuments.WithLabelValues(OutcomeFailed.String()).Add(float64(t.Failed))
	if t.Failed > 0 {
		for _, o := range outcomes {
			if o.Outcome == OutcomeFailed {
				e.logger.Debugf("batch %d: document %d failed: %s", batch.Seq, o.ID, o.Reason)
			}
		}
	}
	e.logger.Debugf("batch %d (ids %d-%d) written in %v: %v",
		batch.Seq, batch.StartID, batch.EndID()-1, time.Since(start), t)
	return t, nil
}

// tallyAccumulator collects per-batch tallies from concurrent batch
// goroutines; reduce is only called once they have all returned.
type tallyAccumulator struct {
	mu      sync.Mutex
	tallies []Tally
}

func (a *tallyAccumulator) add(t Tally) {
	a.mu.Lock()
	a.tallies = append(a.tallies, t)
	a.mu.Unlock()
}

func (a *tallyAccumulator) reduce() Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ReduceTallies(a.tallies...)
}
