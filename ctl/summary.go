// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
)

// Summary output formats.
const (
	OutputText  = "text"
	OutputTable = "table"
)

// Summary describes a finished load.
type Summary struct {
	Tally    bulkload.Tally
	Duration time.Duration
}

// RecordsPerSecond is the total record count over the whole seconds the
// load took, counting a load under a second as one second.
func (s Summary) RecordsPerSecond() int {
	secs := int(s.Duration / time.Second)
	if secs < 1 {
		secs = 1
	}
	return s.Tally.Total / secs
}

func (s Summary) rows() [][2]interface{} {
	return [][2]interface{}{
		{"Total Records", s.Tally.Total},
		{"Total Created", s.Tally.Created},
		{"Total Failed", s.Tally.Failed},
		{"Duration", s.Duration},
		{"Records Per Second", s.RecordsPerSecond()},
	}
}

// Write writes the summary to w in the given output format.
func (s Summary) Write(w io.Writer, format string) error {
	switch format {
	case OutputText, "":
		for _, row := range s.rows() {
			if _, err := fmt.Fprintf(w, "%s: %v\n", row[0], row[1]); err != nil {
				return errors.Wrap(err, "writing summary")
			}
		}
	case OutputTable:
		t := table.NewWriter()
		t.SetOutputMirror(w)

		// Don't uppercase the header values.
		t.Style().Format.Header = text.FormatDefault
		t.AppendHeader(table.Row{"Measure", "Value"})
		for _, row := range s.rows() {
			t.AppendRow(table.Row{row[0], row[1]})
		}
		t.Render()
	default:
		return errors.Newf(errors.ErrInvalidConfig, "unknown output format %q", format)
	}
	return nil
}
