// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of a tensor or of a declared
// iterator output.
//
// DType is the enumeration defined in github.com/gomlx/gopjrt/dtypes, so the names accepted by
// the iterators' "dtype" option ("float32", "float16", "uint8", ...) are the same ones used by
// the rest of the GoMLX ecosystem.
//
// Example: the batch of 32 CIFAR images declared by a record iterator has shape
// `(Float32)[32 3 28 28]`, created with `shapes.Make(dtypes.Float32, 32, 3, 28, 28)`.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: the index of a dimension.
//   - Dimension: the size of a tensor in one of its axes.
//   - Scalar: a shape with no axes, only a single value of the associated DType.
package shapes

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a Tensor: its DType and the dimensions of each axis.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// It panics if any of the dimensions is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// WithBatch returns a new shape with a leading batch axis of the given dimension.
func (s Shape) WithBatch(batchSize int) Shape {
	return Make(s.DType, append([]int{batchSize}, s.Dimensions...)...)
}

// HasShape is an interface for objects that have an associated Shape.
// Tensors implement it.
type HasShape interface {
	Shape() Shape
}

// CheckDims checks that the shape has the given dimensions and rank. A value of -1 in
// dimensions means it can take any value and is not checked.
//
// It returns an error if the rank is different or if any of the dimensions don't match.
func CheckDims(shaped HasShape, dimensions ...int) error {
	shape := shaped.Shape()
	if shape.Rank() != len(dimensions) {
		return errors.Errorf("rank of shape (%d) doesn't match rank of dimensions %v given", shape.Rank(), dimensions)
	}
	for ii, wantDim := range dimensions {
		if wantDim != -1 && shape.Dimensions[ii] != wantDim {
			return errors.Errorf("shape %s axis %d doesn't match wanted dimensions %v", shape, ii, dimensions)
		}
	}
	return nil
}

// ParseDimensions parses dimensions given as a comma (or "x") separated list of integers, as in "3,32,32"
// or "3x224x224". Parenthesis and spaces are ignored.
func ParseDimensions(text string) ([]int, error) {
	text = strings.NewReplacer("(", "", ")", "", " ", "", "x", ",").Replace(text)
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	dims := make([]int, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse dimension %q in %q", part, text)
		}
		if dim <= 0 {
			return nil, errors.Errorf("invalid dimension %d in %q, dimensions must be > 0", dim, text)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}
