// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"context"
	"strings"

	"github.com/featurebasedb/bulkload/errors"
)

// BulkWriter writes one batch to the store as create-only operations: a
// document whose id already exists is reported as failed, never
// overwritten. Write returns one outcome per record of the batch, in any
// order. A non-nil error means the batch as a whole could not be written
// or its response could not be understood; it is fatal to the load.
type BulkWriter interface {
	Write(ctx context.Context, batch Batch) ([]DocumentOutcome, error)
}

// BulkWriterFunc adapts a function to the BulkWriter interface.
type BulkWriterFunc func(ctx context.Context, batch Batch) ([]DocumentOutcome, error)

func (f BulkWriterFunc) Write(ctx context.Context, batch Batch) ([]DocumentOutcome, error) {
	return f(ctx, batch)
}

// RefreshMode controls when written documents become visible to searches.
type RefreshMode int

const (
	// NoRefresh leaves visibility to the store's refresh interval.
	NoRefresh RefreshMode = iota
	// ImmediateRefresh refreshes the affected shards right after the write.
	ImmediateRefresh
	// WaitForRefresh waits for the next scheduled refresh before returning.
	WaitForRefresh
)

// String returns the value of the store's "refresh" request parameter.
func (m RefreshMode) String() string {
	switch m {
	case ImmediateRefresh:
		return "true"
	case WaitForRefresh:
		return "wait_for"
	default:
		return "false"
	}
}

// ParseRefreshMode parses "false", "true" or "wait_for". The empty string
// is NoRefresh.
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false":
		return NoRefresh, nil
	case "true":
		return ImmediateRefresh, nil
	case "wait_for", "wait-for", "waitfor":
		return WaitForRefresh, nil
	}
	return NoRefresh, errors.Newf(errors.ErrInvalidConfig, "invalid refresh mode %q, must be one of false, true, wait_for", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m RefreshMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *RefreshMode) UnmarshalText(text []byte) error {
	mode, err := ParseRefreshMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
