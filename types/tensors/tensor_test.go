// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.True(t, tensor.Ok())
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, dtypes.Float32, tensor.DType())
	require.Equal(t, uintptr(24), tensor.Memory())
	MustConstFlatData(tensor, func(flat []float32) {
		require.Equal(t, make([]float32, 6), flat)
	})
	require.Panics(t, func() {
		MustConstFlatData(tensor, func(flat []float64) {})
	})

	half := FromShape(shapes.Make(dtypes.Float16, 4))
	half.ConstFlatData(func(flat any) {
		require.IsType(t, []float16.Float16{}, flat)
	})
}

func TestFromFlatData(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]uint8{1, 2, 3, 4}, 2, 2)
	require.Equal(t, []int{2, 2}, tensor.Shape().Dimensions)
	require.Equal(t, dtypes.Uint8, tensor.DType())
	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]uint8{1, 2, 3}, 2, 2) })

	values, err := CopyFlatData[uint8](tensor)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 3, 4}, values)
	_, err = CopyFlatData[float32](tensor)
	require.Error(t, err)

	filled := FromScalarAndDimensions(float32(0.5), 3)
	require.Equal(t, "(Float32)[3]: [0.5 0.5 0.5]", filled.String())
}

func TestClone(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	clone := tensor.Clone()
	require.True(t, clone.Equal(tensor))
	MustMutableFlatData(clone, func(flat []int32) { flat[0] = 100 })
	require.False(t, clone.Equal(tensor))
	MustConstFlatData(tensor, func(flat []int32) { require.Equal(t, int32(1), flat[0]) })
}
