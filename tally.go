// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"fmt"

	"github.com/featurebasedb/bulkload/errors"
)

// Outcome is the result of writing a single document.
type Outcome int

const (
	// OutcomeUnknown is the zero value; a writer reports it for a result
	// entry it could not interpret. It is never counted.
	OutcomeUnknown Outcome = iota
	OutcomeCreated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// DocumentOutcome is what the store reported for one document.
type DocumentOutcome struct {
	ID      uint64
	Outcome Outcome
	// Reason describes a failure, if the store gave one.
	Reason string
}

// Tally counts document outcomes for a batch or for a whole run. Total is
// always Created+Failed.
type Tally struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Failed  int `json:"failed"`
}

// Add returns the field-wise sum of t and o.
func (t Tally) Add(o Tally) Tally {
	return Tally{
		Total:   t.Total + o.Total,
		Created: t.Created + o.Created,
		Failed:  t.Failed + o.Failed,
	}
}

// Valid reports whether t satisfies Total == Created + Failed.
func (t Tally) Valid() bool {
	return t.Total == t.Created+t.Failed && t.Created >= 0 && t.Failed >= 0
}

func (t Tally) String() string {
	return fmt.Sprintf("total=%d created=%d failed=%d", t.Total, t.Created, t.Failed)
}

// ReduceTallies sums tallies. The order of tallies does not matter.
func ReduceTallies(tallies ...Tally) Tally {
	var sum Tally
	for _, t := range tallies {
		sum = sum.Add(t)
	}
	return sum
}

// TallyOutcomes checks the outcomes a writer returned for batch and counts
// them. Outcomes are matched to records by id, not by position: there must
// be exactly one outcome per record of the batch, each for an id belonging
// to the batch. A violation, or an outcome that is neither created nor
// failed, means the store response was malformed, and an
// ErrMalformedResponse error is returned instead of a tally.
func TallyOutcomes(batch Batch, outcomes []DocumentOutcome) (Tally, error) {
	if len(outcomes) != batch.Len() {
		return Tally{}, errors.Newf(errors.ErrMalformedResponse,
			"batch %d: got %d results for %d documents", batch.Seq, len(outcomes), batch.Len())
	}
	seen := make([]bool, batch.Len())
	var t Tally
	for i, o := range outcomes {
		if !batch.Contains(o.ID) {
			return Tally{}, errors.Newf(errors.ErrMalformedResponse,
				"batch %d: result %d has id %d outside [%d, %d)", batch.Seq, i, o.ID, batch.StartID, batch.EndID())
		}
		off := o.ID - batch.StartID
		if seen[off] {
			return Tally{}, errors.Newf(errors.ErrMalformedResponse,
				"batch %d: duplicate result for id %d", batch.Seq, o.ID)
		}
		seen[off] = true

		switch o.Outcome {
		case OutcomeCreated:
			t.Created++
		case OutcomeFailed:
			t.Failed++
		default:
			return Tally{}, errors.Newf(errors.ErrMalformedResponse,
				"batch %d: result for id %d is neither a creation nor a failure", batch.Seq, o.ID)
		}
		t.Total++
	}
	return t, nil
}
