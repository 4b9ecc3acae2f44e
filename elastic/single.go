// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package elastic

import (
	"context"
	"net/http"

	es "github.com/olivere/elastic/v7"

	"github.com/featurebasedb/bulkload"
)

// DocumentWriter writes each record of a batch with its own create
// request. It is used when the batch size is 1.
type DocumentWriter struct {
	c *Client
}

var _ bulkload.BulkWriter = (*DocumentWriter)(nil)

func NewDocumentWriter(c *Client) *DocumentWriter {
	return &DocumentWriter{c: c}
}

// Write creates the records of batch one at a time. A 400 or 409 answer
// fails only that document; any other error fails the batch.
func (w *DocumentWriter) Write(ctx context.Context, batch bulkload.Batch) ([]bulkload.DocumentOutcome, error) {
	span, ctx := w.c.startSpan(ctx, "DocumentWriter.Write", batch)
	defer span.Finish()

	outcomes := make([]bulkload.DocumentOutcome, 0, batch.Len())
	for i, rec := range batch.Records {
		id := batch.ID(i)
		svc := w.c.client.Index().
			Index(w.c.index).
			Id(formatID(id)).
			OpType(opCreate).
			BodyJson(rec)
		if w.c.refresh != bulkload.NoRefresh {
			svc = svc.Refresh(w.c.refresh.String())
		}
		_, err := svc.Do(ctx)
		if err == nil {
			outcomes = append(outcomes, bulkload.DocumentOutcome{ID: id, Outcome: bulkload.OutcomeCreated})
			continue
		}
		if status, details, ok := documentFailure(err); ok {
			outcomes = append(outcomes, bulkload.DocumentOutcome{
				ID:      id,
				Outcome: bulkload.OutcomeFailed,
				Reason:  errorReason(status, details),
			})
			continue
		}
		span.SetTag("error", true)
		return nil, wrapError(err, "creating document %d", id)
	}
	return outcomes, nil
}

// documentFailure reports whether err rejects just the document: a
// conflict with an existing id, or a document the store could not accept.
func documentFailure(err error) (int, *es.ErrorDetails, bool) {
	e, ok := err.(*es.Error)
	if !ok {
		return 0, nil, false
	}
	switch e.Status {
	case http.StatusBadRequest, http.StatusConflict:
		return e.Status, e.Details, true
	}
	return 0, nil, false
}
