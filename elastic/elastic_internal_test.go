// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package elastic

import (
	"context"
	"net/http"
	"testing"

	es "github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
)

func TestBulkOutcomes(t *testing.T) {
	resp := &es.BulkResponse{
		Items: []map[string]*es.BulkResponseItem{
			{"create": {Id: "2", Status: 201}},
			{"create": {Id: "1", Status: 409, Error: &es.ErrorDetails{Type: "version_conflict_engine_exception", Reason: "exists"}}},
			{"create": {Id: "3", Status: 429, Error: &es.ErrorDetails{Type: "es_rejected_execution_exception"}}},
			{"create": {Id: "4", Status: 500}},
			{"update": {Id: "5", Status: 200}},
			{"create": {Id: "6"}},
		},
	}
	outcomes, err := bulkOutcomes(resp)
	require.NoError(t, err)
	assert.Equal(t, []bulkload.DocumentOutcome{
		{ID: 2, Outcome: bulkload.OutcomeCreated},
		{ID: 1, Outcome: bulkload.OutcomeFailed, Reason: "version_conflict_engine_exception: exists"},
		{ID: 3, Outcome: bulkload.OutcomeFailed, Reason: "es_rejected_execution_exception"},
		{ID: 4, Outcome: bulkload.OutcomeFailed, Reason: "status 500"},
		{ID: 5, Outcome: bulkload.OutcomeUnknown, Reason: "unexpected action update"},
		{ID: 6, Outcome: bulkload.OutcomeUnknown, Reason: "no error and status 0"},
	}, outcomes)

	for name, resp := range map[string]*es.BulkResponse{
		"Nil":        nil,
		"NoResult":   {Items: []map[string]*es.BulkResponseItem{{"create": nil}}},
		"TwoActions": {Items: []map[string]*es.BulkResponseItem{{"create": {Id: "1"}, "index": {Id: "1"}}}},
		"BadID":      {Items: []map[string]*es.BulkResponseItem{{"create": {Id: "one"}}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := bulkOutcomes(resp)
			assert.True(t, errors.Is(err, errors.ErrMalformedResponse), "got %v", err)
		})
	}

	// Items that parse but are neither created nor failed fail the batch.
	batch := bulkload.Batch{StartID: 1, Records: []bulkload.Record{map[string]string{"a": "1"}}}
	for name, item := range map[string]*es.BulkResponseItem{
		"NoStatus":      {Id: "1"},
		"Informational": {Id: "1", Status: 100},
	} {
		t.Run(name, func(t *testing.T) {
			outcomes, err := bulkOutcomes(&es.BulkResponse{Items: []map[string]*es.BulkResponseItem{{"create": item}}})
			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.Equal(t, bulkload.OutcomeUnknown, outcomes[0].Outcome)
			_, err = bulkload.TallyOutcomes(batch, outcomes)
			assert.True(t, errors.Is(err, errors.ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestCheckRetry(t *testing.T) {
	ctx := context.Background()
	for status, want := range map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusConflict:            false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: false,
		http.StatusServiceUnavailable:  true,
	} {
		retry, err := checkRetry(ctx, &http.Response{StatusCode: status}, nil)
		assert.NoError(t, err)
		assert.Equal(t, want, retry, "status %d", status)
	}

	retry, err := checkRetry(ctx, nil, errors.Errorf("connection reset by peer"))
	assert.NoError(t, err)
	assert.False(t, retry)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	retry, err = checkRetry(cctx, &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, retry)
}

func TestIndexSettingsBody(t *testing.T) {
	body := IndexSettings{Replicas: 0}.body()
	assert.Equal(t, map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{"number_of_replicas": 0},
		},
	}, body)
}

func TestClientOptionsDefaults(t *testing.T) {
	co := (&ClientOptions{}).withDefaults()
	assert.Equal(t, 2, *co.retries)
	assert.NotEmpty(t, co.runID)
	assert.NotNil(t, co.tracer)
	assert.NotNil(t, co.TLSConfig)

	other := (&ClientOptions{}).withDefaults()
	assert.NotEqual(t, co.runID, other.runID)
}
