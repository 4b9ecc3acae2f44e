// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package elastic writes batches to an Elasticsearch compatible store over
// its HTTP API.
package elastic

import (
	"context"
	"encoding/json"
	"strconv"

	es "github.com/olivere/elastic/v7"
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
	"github.com/featurebasedb/bulkload/logger"
)

// Client is a connection to one index of the store.
type Client struct {
	client  *es.Client
	index   string
	refresh bulkload.RefreshMode
	single  bool

	runID  string
	tracer opentracing.Tracer
	logger logger.Logger
}

// NewClient returns a Client for the store and index described by cfg. No
// request is made until the client is used.
func NewClient(cfg bulkload.Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	co := &ClientOptions{}
	if err := co.addOptions(options...); err != nil {
		return nil, err
	}
	co = co.withDefaults()

	esOpts := []es.ClientOptionFunc{
		es.SetURL(cfg.TargetURI),
		es.SetSniff(false),
		es.SetHealthcheck(false),
		es.SetHttpClient(newHTTPClient(co)),
		es.SetErrorLog(co.logger.WithPrefix("elastic: ")),
	}
	if cfg.Credentials != nil {
		esOpts = append(esOpts, es.SetBasicAuth(cfg.Credentials.Username, cfg.Credentials.Password))
	}
	client, err := es.NewClient(esOpts...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating store client"), errors.ErrInvalidConfig)
	}
	return &Client{
		client:  client,
		index:   cfg.Index,
		refresh: cfg.Refresh,
		single:  cfg.SingleDocument(),
		runID:   co.runID,
		tracer:  co.tracer,
		logger:  co.logger,
	}, nil
}

// RunID returns the id sent as X-Opaque-Id with every request.
func (c *Client) RunID() string { return c.runID }

// Index returns the name of the index written to.
func (c *Client) Index() string { return c.index }

// NewWriter returns the BulkWriter selected by the client's configuration:
// a DocumentWriter for a batch size of 1, otherwise a BulkWriter.
func NewWriter(c *Client) bulkload.BulkWriter {
	if c.single {
		return NewDocumentWriter(c)
	}
	return NewBulkWriter(c)
}

// IndexSettings are applied when ResetIndex recreates the index.
type IndexSettings struct {
	Shards          int    `toml:"shards"`
	Replicas        int    `toml:"replicas"`
	RefreshInterval string `toml:"refresh-interval"`
}

func (s IndexSettings) body() map[string]interface{} {
	settings := map[string]interface{}{}
	if s.Shards > 0 {
		settings["number_of_shards"] = s.Shards
	}
	if s.Replicas >= 0 {
		settings["number_of_replicas"] = s.Replicas
	}
	if s.RefreshInterval != "" {
		settings["refresh_interval"] = s.RefreshInterval
	}
	return map[string]interface{}{
		"settings": map[string]interface{}{"index": settings},
	}
}

// ResetIndex deletes the index if it exists and creates it again, empty,
// with the given settings.
func (c *Client) ResetIndex(ctx context.Context, settings IndexSettings) error {
	exists, err := c.client.IndexExists(c.index).Do(ctx)
	if err != nil {
		return wrapError(err, "checking index %s", c.index)
	}
	if exists {
		c.logger.Infof("deleting index %s", c.index)
		if _, err := c.client.DeleteIndex(c.index).Do(ctx); err != nil {
			return wrapError(err, "deleting index %s", c.index)
		}
	}
	c.logger.Infof("creating index %s", c.index)
	res, err := c.client.CreateIndex(c.index).BodyJson(settings.body()).Do(ctx)
	if err != nil {
		return wrapError(err, "creating index %s", c.index)
	}
	if !res.Acknowledged {
		return errors.Newf(errors.ErrConnection, "creating index %s was not acknowledged", c.index)
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, name string, batch bulkload.Batch) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, c.tracer, name)
	span.SetTag("index", c.index)
	span.SetTag("batch", batch.Seq)
	span.SetTag("records", batch.Len())
	return span, ctx
}

// wrapError classifies an error from the store client: responses that could
// not be decoded are ErrMalformedResponse, everything else is ErrConnection.
func wrapError(err error, format string, args ...interface{}) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	code := errors.ErrConnection
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		code = errors.ErrMalformedResponse
	}
	return errors.Wrapf(errors.Mark(err, code), format, args...)
}

// errorReason describes a store error in a single line.
func errorReason(status int, details *es.ErrorDetails) string {
	if details == nil {
		return "status " + strconv.Itoa(status)
	}
	if details.Reason == "" {
		return details.Type
	}
	return details.Type + ": " + details.Reason
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
