// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package elastic

import (
	"context"
	"strconv"

	es "github.com/olivere/elastic/v7"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
)

// opCreate is the bulk action every record is sent with.
const opCreate = "create"

// BulkWriter writes each batch with a single _bulk request of create
// actions.
type BulkWriter struct {
	c *Client
}

var _ bulkload.BulkWriter = (*BulkWriter)(nil)

func NewBulkWriter(c *Client) *BulkWriter {
	return &BulkWriter{c: c}
}

// Write sends batch as one bulk request. Rejected documents are reported as
// OutcomeFailed; an error means the request itself failed or its response
// could not be understood.
func (w *BulkWriter) Write(ctx context.Context, batch bulkload.Batch) ([]bulkload.DocumentOutcome, error) {
	span, ctx := w.c.startSpan(ctx, "BulkWriter.Write", batch)
	defer span.Finish()

	svc := w.c.client.Bulk().Index(w.c.index)
	if w.c.refresh != bulkload.NoRefresh {
		svc = svc.Refresh(w.c.refresh.String())
	}
	for i, rec := range batch.Records {
		svc.Add(es.NewBulkCreateRequest().Id(formatID(batch.ID(i))).Doc(rec))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		span.SetTag("error", true)
		return nil, wrapError(err, "bulk request for ids %d-%d", batch.StartID, batch.EndID()-1)
	}
	outcomes, err := bulkOutcomes(resp)
	if err != nil {
		span.SetTag("error", true)
		return nil, errors.Wrapf(err, "bulk response for ids %d-%d", batch.StartID, batch.EndID()-1)
	}
	return outcomes, nil
}

// bulkOutcomes turns the items of a bulk response into document outcomes.
// Items are identified by their _id, since the store does not promise to
// answer in request order. An item for any action other than create, or
// one carrying neither a success status nor an error, is reported as
// OutcomeUnknown.
func bulkOutcomes(resp *es.BulkResponse) ([]bulkload.DocumentOutcome, error) {
	if resp == nil {
		return nil, errors.New(errors.ErrMalformedResponse, "empty bulk response")
	}
	outcomes := make([]bulkload.DocumentOutcome, 0, len(resp.Items))
	for i, item := range resp.Items {
		if len(item) != 1 {
			return nil, errors.Newf(errors.ErrMalformedResponse, "bulk item %d has %d actions", i, len(item))
		}
		for action, result := range item {
			if result == nil {
				return nil, errors.Newf(errors.ErrMalformedResponse, "bulk item %d has no result", i)
			}
			id, err := strconv.ParseUint(result.Id, 10, 64)
			if err != nil {
				return nil, errors.Newf(errors.ErrMalformedResponse, "bulk item %d has invalid _id %q", i, result.Id)
			}
			outcomes = append(outcomes, itemOutcome(id, action, result))
		}
	}
	return outcomes, nil
}

func itemOutcome(id uint64, action string, result *es.BulkResponseItem) bulkload.DocumentOutcome {
	o := bulkload.DocumentOutcome{ID: id}
	switch {
	case action != opCreate:
		o.Outcome = bulkload.OutcomeUnknown
		o.Reason = "unexpected action " + action
	case result.Error == nil && result.Status >= 200 && result.Status < 300:
		o.Outcome = bulkload.OutcomeCreated
	case result.Error != nil || result.Status >= 300:
		o.Outcome = bulkload.OutcomeFailed
		o.Reason = errorReason(result.Status, result.Error)
	default:
		// Neither a success status nor an error object.
		o.Outcome = bulkload.OutcomeUnknown
		o.Reason = "no error and status " + strconv.Itoa(result.Status)
	}
	return o
}
