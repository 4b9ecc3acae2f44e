// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"io"

	"github.com/featurebasedb/bulkload/errors"
)

// Record is a single unit of data to be written as one document. It must be
// encodable as a JSON object. A Record's identity is its position in the
// source; records are never mutated once read.
type Record interface{}

// Source is implemented by producers of records. Record returns the next
// record, or io.EOF once the source is exhausted. Any other error is fatal
// to a load. Sources are not safe for concurrent use; the engine reads
// them from a single goroutine.
type Source interface {
	Record() (Record, error)
	Close() error
}

// DocumentID returns the document identifier of the record at the given
// 0-based position of the overall source sequence. Identifiers start at 1
// and have no gaps, and they depend only on position, so any batch can
// compute its identifiers without knowing how other batches were executed.
func DocumentID(position int) uint64 {
	return uint64(position) + 1
}

// SliceSource is a Source reading from an in-memory slice.
type SliceSource struct {
	records []Record
	next    int
}

// NewSliceSource returns a Source which yields records in order.
func NewSliceSource(records []Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Record() (Record, error) {
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}

// Len returns the total number of records, read or not.
func (s *SliceSource) Len() int { return len(s.records) }

func (s *SliceSource) Close() error { return nil }

// ReadAll reads src to exhaustion and returns its records in order. A
// failure is returned as an ErrSource error.
func ReadAll(src Source) ([]Record, error) {
	var records []Record
	for {
		rec, err := src.Record()
		if err == io.EOF {
			return records, nil
		} else if err != nil {
			return nil, errors.Wrapf(errors.Mark(err, errors.ErrSource), "reading record %d", len(records))
		}
		records = append(records, rec)
	}
}
