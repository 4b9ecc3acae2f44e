// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"io"

	"github.com/featurebasedb/bulkload/errors"
)

// DefaultBatchSize is the number of records per bulk request when none is
// configured.
const DefaultBatchSize = 10000

// Batch is a contiguous run of records written by a single BulkWriter call.
// Record i of the batch has the identifier StartID+i.
type Batch struct {
	// Seq is the 0-based index of the batch within its run.
	Seq     int
	StartID uint64
	Records []Record
}

// ID returns the document identifier of the i'th record in the batch.
func (b Batch) ID(i int) uint64 {
	return b.StartID + uint64(i)
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// EndID returns the identifier after the last record of the batch.
func (b Batch) EndID() uint64 {
	return b.StartID + uint64(len(b.Records))
}

// Contains reports whether id was assigned to one of the batch's records.
func (b Batch) Contains(id uint64) bool {
	return id >= b.StartID && id < b.EndID()
}

// Batcher cuts the records of a Source into batches. Every batch except
// possibly the last holds exactly the configured number of records. Batches
// do not share memory, so they can be written concurrently.
type Batcher struct {
	src  Source
	size int

	// position of the next record to be read from src; only the goroutine
	// calling Next touches it.
	position int
	seq      int
	done     bool
}

// NewBatcher returns a Batcher reading from src.
func NewBatcher(src Source, size int) (*Batcher, error) {
	if size < 1 {
		return nil, errors.Newf(errors.ErrInvalidConfig, "batch size must be at least 1, got %d", size)
	}
	return &Batcher{src: src, size: size}, nil
}

// Next returns the next batch, or io.EOF once the source is exhausted. A
// source failure is returned as an ErrSource error; the Batcher returns
// io.EOF after that.
func (b *Batcher) Next() (Batch, error) {
	if b.done {
		return Batch{}, io.EOF
	}
	batch := Batch{
		Seq:     b.seq,
		StartID: DocumentID(b.position),
		Records: make([]Record, 0, b.size),
	}
	for len(batch.Records) < b.size {
		rec, err := b.src.Record()
		if err == io.EOF {
			b.done = true
			break
		} else if err != nil {
			b.done = true
			return Batch{}, errors.Wrapf(errors.Mark(err, errors.ErrSource), "reading record %d", b.position)
		}
		batch.Records = append(batch.Records, rec)
		b.position++
	}
	if len(batch.Records) == 0 {
		return Batch{}, io.EOF
	}
	b.seq++
	return batch, nil
}

// Position returns the number of records read so far.
func (b *Batcher) Position() int { return b.position }

// BatchCount returns the number of batches n records are split into.
func BatchCount(n, size int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	return (n + size - 1) / size
}
