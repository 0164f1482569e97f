// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"

	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/bmxtools/types/tensors"
)

// Desc describes one named input or label of the batches yielded by an Iterator.
type Desc struct {
	Name  string
	Shape shapes.Shape
}

// String implements fmt.Stringer.
func (d Desc) String() string {
	return fmt.Sprintf("%s%s", d.Name, d.Shape)
}

// Batch yielded by an Iterator. Data and Label follow the order of the iterator's
// ProvideData and ProvideLabel.
//
// Pad is the number of examples at the end of the batch that are filler, used when the
// number of examples is not a multiple of the batch size. It is usually 0.
type Batch struct {
	Data, Label []*tensors.Tensor
	Pad         int
}

// Iterator yields batches of examples.
//
// Iterators are not safe for concurrent use, unless stated otherwise by the implementation.
type Iterator interface {
	// Name of the iterator, used for logging and debugging.
	Name() string

	// Next returns the next batch. At the end of the sequence it returns io.EOF, and
	// the caller should call Reset to restart, if the iterator supports it.
	Next() (*Batch, error)

	// Reset restarts the iterator from the beginning. Errors during reset are returned
	// by the following call to Next.
	Reset()

	// BatchSize is the number of examples per batch.
	BatchSize() int

	// ProvideData describes the data tensors of each batch. It is fixed for the lifetime of the iterator.
	ProvideData() []Desc

	// ProvideLabel describes the label tensors of each batch. It is fixed for the lifetime of the iterator.
	ProvideLabel() []Desc
}

// Augmenter transforms one image, represented as a Uint8 tensor shaped `[height, width, channels]`.
// It returns the transformed image, which may have a different height and width.
type Augmenter func(img *tensors.Tensor) *tensors.Tensor

// applyAugmenters applies the augmenters in sequence.
func applyAugmenters(img *tensors.Tensor, augmenters []Augmenter) *tensors.Tensor {
	for _, aug := range augmenters {
		img = aug(img)
	}
	return img
}
