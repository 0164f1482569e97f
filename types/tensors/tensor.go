// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host-memory `Tensor`, a representation of a multi-dimensional array.
//
// Tensors are defined by their shape (a data type and its axes dimensions) and their content, stored
// as a flat Go slice of the dtype's Go type (e.g.: `[]float32` for dtypes.Float32,
// `[]float16.Float16` for dtypes.Float16).
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]uint8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
// The tensors yielded by the iterators in ml/data are owned by the caller, except where documented
// otherwise (the dummy iterator yields always the same tensors).
package tensors

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array defined by its shape, a data type (dtypes.DType) and its axes'
// dimensions, and its actual content stored as a flat (1D) slice of values.
type Tensor struct {
	// shape of the tensor, considered immutable.
	shape shapes.Shape

	// mu protects flat.
	mu   sync.Mutex
	flat any // Slice of the Go type for the dtype of the given shape.
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype has no Go representation", shape)
	}
	t = &Tensor{shape: shape}
	t.flat = reflect.MakeSlice(reflect.SliceOf(goType), shape.Size(), shape.Size()).Interface()
	return
}

// FromFlatDataAndDimensions creates a Tensor with the given dimensions, using the given flat data.
// The data is used directly (not copied), and it's owned by the Tensor from here on.
//
// It panics if len(data) doesn't match the size of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(data=%d values, dimensions=%v): "+
			"number of values doesn't match dimensions (size %d)", len(data), dimensions, shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, filled with the given scalar value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	data := make([]T, shape.Size())
	for ii := range data {
		data[ii] = value
	}
	return &Tensor{shape: shape, flat: data}
}

// Shape of the Tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state.
func (t *Tensor) Ok() bool { return t != nil && t.shape.Ok() && t.flat != nil }

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// The slice given to accessFn is owned by the Tensor and should not be changed, see MutableFlatData.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// It locks the Tensor until accessFn returns.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// MustConstFlatData is the generics version of Tensor.ConstFlatData.
// It panics if T doesn't match the tensor's DType.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.ConstFlatData(func(flatAny any) {
		flat, ok := flatAny.([]T)
		if !ok {
			var zero T
			exceptions.Panicf("tensors.MustConstFlatData[%T] called for tensor of shape %s", zero, t.shape)
		}
		accessFn(flat)
	})
}

// MustMutableFlatData is the generics version of Tensor.MutableFlatData.
// It panics if T doesn't match the tensor's DType.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.MutableFlatData(func(flatAny any) {
		flat, ok := flatAny.([]T)
		if !ok {
			var zero T
			exceptions.Panicf("tensors.MustMutableFlatData[%T] called for tensor of shape %s", zero, t.shape)
		}
		accessFn(flat)
	})
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It returns an error if T doesn't match the tensor's DType.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var result []T
	var err error
	t.ConstFlatData(func(flatAny any) {
		flat, ok := flatAny.([]T)
		if !ok {
			err = errors.Errorf("CopyFlatData[%T] called for tensor of shape %s", result, t.shape)
			return
		}
		result = make([]T, len(flat))
		copy(result, flat)
	})
	return result, err
}

// Clone creates a deep copy of the Tensor.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{shape: t.shape.Clone()}
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		size := flatV.Len()
		cloneFlatV := reflect.MakeSlice(flatV.Type(), size, size)
		reflect.Copy(cloneFlatV, flatV)
		clone.flat = cloneFlatV.Interface()
	})
	return clone
}

// Equal returns whether both tensors have the same shape and the same values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || !t.shape.Equal(other.shape) {
		return false
	}
	var equal bool
	t.ConstFlatData(func(flat any) {
		other.ConstFlatData(func(otherFlat any) {
			equal = reflect.DeepEqual(flat, otherFlat)
		})
	})
	return equal
}

// maxStringValues is the number of values printed by Tensor.String.
const maxStringValues = 16

// String implements fmt.Stringer. Large tensors have their values truncated.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	var sb strings.Builder
	sb.WriteString(t.shape.String())
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		n := min(flatV.Len(), maxStringValues)
		values := make([]string, n)
		for ii := range n {
			values[ii] = fmt.Sprintf("%v", flatV.Index(ii).Interface())
		}
		sb.WriteString(": [")
		sb.WriteString(strings.Join(values, " "))
		if flatV.Len() > n {
			sb.WriteString(" ...")
		}
		sb.WriteString("]")
	})
	return sb.String()
}
