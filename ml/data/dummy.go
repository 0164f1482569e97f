// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"io"

	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// DefaultDummyBatches is the number of batches yielded by the iterators created by DummyIterators.
const DefaultDummyBatches = 100

// DummyIter yields the same batch of zeros a fixed number of times. It's used to benchmark
// without the cost of reading and decoding data.
type DummyIter struct {
	batchSize, maxBatches, current int
	dataDesc, labelDesc            Desc
	batch                          *Batch
}

// Compile-time check that DummyIter implements Iterator.
var _ Iterator = (*DummyIter)(nil)

// NewDummyIter creates an iterator yielding batches with "data" shaped `[batchSize]+dataShape` and
// "softmax_label" shaped `[batchSize]`, both Float32 zeros.
//
// The batch is created once and the same tensors are yielded in every call to Next.
func NewDummyIter(batchSize int, dataShape []int, batches int) *DummyIter {
	it := &DummyIter{
		batchSize:  batchSize,
		maxBatches: batches,
		dataDesc:   Desc{Name: "data", Shape: shapes.Make(dtypes.Float32, dataShape...).WithBatch(batchSize)},
		labelDesc:  Desc{Name: "softmax_label", Shape: shapes.Make(dtypes.Float32, batchSize)},
	}
	it.batch = &Batch{
		Data:  []*tensors.Tensor{tensors.FromShape(it.dataDesc.Shape)},
		Label: []*tensors.Tensor{tensors.FromShape(it.labelDesc.Shape)},
	}
	return it
}

// DummyIterators returns a training and a validation DummyIter, each yielding DefaultDummyBatches batches.
func DummyIterators(batchSize int, dataShape []int) (train, val *DummyIter) {
	return NewDummyIter(batchSize, dataShape, DefaultDummyBatches), NewDummyIter(batchSize, dataShape, DefaultDummyBatches)
}

// Name implements Iterator.
func (it *DummyIter) Name() string {
	return fmt.Sprintf("dummy(%d batches of %s)", it.maxBatches, it.dataDesc.Shape)
}

// Next implements Iterator. After the last batch it returns io.EOF and rewinds, so the following
// call to Next starts a new epoch.
func (it *DummyIter) Next() (*Batch, error) {
	if it.current >= it.maxBatches {
		it.current = 0
		return nil, io.EOF
	}
	it.current++
	return it.batch, nil
}

// Reset implements Iterator.
func (it *DummyIter) Reset() {
	it.current = 0
}

// BatchSize implements Iterator.
func (it *DummyIter) BatchSize() int { return it.batchSize }

// ProvideData implements Iterator.
func (it *DummyIter) ProvideData() []Desc { return []Desc{it.dataDesc} }

// ProvideLabel implements Iterator.
func (it *DummyIter) ProvideLabel() []Desc { return []Desc{it.labelDesc} }
