// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
)

func outcomesFor(batch bulkload.Batch, failed func(id uint64) bool) []bulkload.DocumentOutcome {
	out := make([]bulkload.DocumentOutcome, batch.Len())
	for i := range out {
		id := batch.ID(i)
		out[i] = bulkload.DocumentOutcome{ID: id, Outcome: bulkload.OutcomeCreated}
		if failed != nil && failed(id) {
			out[i].Outcome = bulkload.OutcomeFailed
			out[i].Reason = "version_conflict_engine_exception"
		}
	}
	return out
}

func TestTallyOutcomes(t *testing.T) {
	batch := bulkload.Batch{Seq: 1, StartID: 11, Records: makeRecords(10)}

	t.Run("AllCreated", func(t *testing.T) {
		tally, err := bulkload.TallyOutcomes(batch, outcomesFor(batch, nil))
		require.NoError(t, err)
		assert.Equal(t, bulkload.Tally{Total: 10, Created: 10}, tally)
		assert.True(t, tally.Valid())
	})

	t.Run("SomeFailed", func(t *testing.T) {
		tally, err := bulkload.TallyOutcomes(batch, outcomesFor(batch, func(id uint64) bool { return id%3 == 0 }))
		require.NoError(t, err)
		// ids 12, 15, 18
		assert.Equal(t, bulkload.Tally{Total: 10, Created: 7, Failed: 3}, tally)
		assert.True(t, tally.Valid())
	})

	t.Run("OutOfOrder", func(t *testing.T) {
		out := outcomesFor(batch, func(id uint64) bool { return id == 20 })
		rand.New(rand.NewSource(1)).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		tally, err := bulkload.TallyOutcomes(batch, out)
		require.NoError(t, err)
		assert.Equal(t, bulkload.Tally{Total: 10, Created: 9, Failed: 1}, tally)
	})

	malformed := map[string]func([]bulkload.DocumentOutcome) []bulkload.DocumentOutcome{
		"Unknown": func(out []bulkload.DocumentOutcome) []bulkload.DocumentOutcome {
			out[4].Outcome = bulkload.OutcomeUnknown
			return out
		},
		"Short": func(out []bulkload.DocumentOutcome) []bulkload.DocumentOutcome {
			return out[:9]
		},
		"Extra": func(out []bulkload.DocumentOutcome) []bulkload.DocumentOutcome {
			return append(out, bulkload.DocumentOutcome{ID: 21, Outcome: bulkload.OutcomeCreated})
		},
		"Duplicate": func(out []bulkload.DocumentOutcome) []bulkload.DocumentOutcome {
			out[1].ID = out[0].ID
			return out
		},
		"ForeignID": func(out []bulkload.DocumentOutcome) []bulkload.DocumentOutcome {
			out[9].ID = 21
			return out
		},
		"ZeroID": func(out []bulkload.DocumentOutcome) []bulkload.DocumentOutcome {
			out[0].ID = 0
			return out
		},
	}
	for name, mangle := range malformed {
		mangle := mangle
		t.Run(name, func(t *testing.T) {
			_, err := bulkload.TallyOutcomes(batch, mangle(outcomesFor(batch, nil)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestReduceTalliesOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tallies := make([]bulkload.Tally, 50)
	for i := range tallies {
		created, failed := rng.Intn(1000), rng.Intn(20)
		tallies[i] = bulkload.Tally{Total: created + failed, Created: created, Failed: failed}
	}
	want := bulkload.ReduceTallies(tallies...)
	require.True(t, want.Valid())

	for i := 0; i < 20; i++ {
		perm := append([]bulkload.Tally(nil), tallies...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		assert.Equal(t, want, bulkload.ReduceTallies(perm...))

		// pairwise, as concurrent completions would combine them
		var acc bulkload.Tally
		for _, t := range perm {
			acc = t.Add(acc)
		}
		assert.Equal(t, want, acc)
	}

	assert.Equal(t, bulkload.Tally{}, bulkload.ReduceTallies())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", bulkload.OutcomeCreated.String())
	assert.Equal(t, "failed", bulkload.OutcomeFailed.String())
	assert.Equal(t, "unknown(0)", bulkload.OutcomeUnknown.String())
}
