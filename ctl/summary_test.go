// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
)

func TestSummary_RecordsPerSecond(t *testing.T) {
	for _, tt := range []struct {
		total    int
		duration time.Duration
		want     int
	}{
		{total: 0, duration: 0, want: 0},
		{total: 500, duration: 10 * time.Millisecond, want: 500},
		{total: 500, duration: 1999 * time.Millisecond, want: 500},
		{total: 2_500_000, duration: 2 * time.Second, want: 1_250_000},
		{total: 10, duration: 3 * time.Second, want: 3},
	} {
		s := Summary{Tally: bulkload.Tally{Total: tt.total, Created: tt.total}, Duration: tt.duration}
		assert.Equal(t, tt.want, s.RecordsPerSecond(), "%d in %v", tt.total, tt.duration)
	}
}

func TestSummary_Write(t *testing.T) {
	s := Summary{
		Tally:    bulkload.Tally{Total: 2500000, Created: 2499990, Failed: 10},
		Duration: 50 * time.Second,
	}

	buf := &bytes.Buffer{}
	require.NoError(t, s.Write(buf, OutputText))
	assert.Equal(t, strings.Join([]string{
		"Total Records: 2500000",
		"Total Created: 2499990",
		"Total Failed: 10",
		"Duration: 50s",
		"Records Per Second: 50000",
		"",
	}, "\n"), buf.String())

	buf.Reset()
	require.NoError(t, s.Write(buf, OutputTable))
	out := buf.String()
	assert.Contains(t, out, "Measure")
	assert.Contains(t, out, "Records Per Second")
	assert.Contains(t, out, "50000")
	assert.Contains(t, out, "+")

	err := s.Write(buf, "xml")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)
}
