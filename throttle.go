// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"context"
	"sync/atomic"

	"github.com/featurebasedb/bulkload/errors"
	"golang.org/x/sync/semaphore"
)

// DefaultThrottle is the number of concurrent writes when none is configured.
const DefaultThrottle = 1

// Throttle is a pool of permits bounding how many batch writes are in
// flight. Waiters are admitted in the order they called Acquire.
type Throttle struct {
	sem      *semaphore.Weighted
	size     int
	inFlight int64
}

// NewThrottle returns a Throttle with n permits.
func NewThrottle(n int) (*Throttle, error) {
	if n < 1 {
		return nil, errors.Newf(errors.ErrInvalidConfig, "throttle must be at least 1, got %d", n)
	}
	return &Throttle{
		sem:  semaphore.NewWeighted(int64(n)),
		size: n,
	}, nil
}

// Acquire blocks until a permit is free or ctx is done. On success the
// caller must call Release exactly once.
func (t *Throttle) Acquire(ctx context.Context) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := atomic.AddInt64(&t.inFlight, 1)
	GaugeInFlightBatches.Set(float64(n))
	return nil
}

// Release returns a permit to the pool.
func (t *Throttle) Release() {
	n := atomic.AddInt64(&t.inFlight, -1)
	GaugeInFlightBatches.Set(float64(n))
	t.sem.Release(1)
}

// InFlight returns the number of permits currently held.
func (t *Throttle) InFlight() int {
	return int(atomic.LoadInt64(&t.inFlight))
}

// Size returns the number of permits.
func (t *Throttle) Size() int { return t.size }
