// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, 2, shape1.Dim(-1))
	require.Equal(t, 4, shape1.Dim(0))
	require.Panics(t, func() { _ = shape1.Dim(3) })

	require.Panics(t, func() { _ = Make(dtypes.Float32, 2, 0) })
}

func TestEqualAndBatch(t *testing.T) {
	s := Make(dtypes.Float32, 3, 32, 32)
	batched := s.WithBatch(8)
	require.Equal(t, []int{8, 3, 32, 32}, batched.Dimensions)
	require.Equal(t, []int{3, 32, 32}, s.Dimensions, "WithBatch must not change the original shape")
	require.True(t, batched.Equal(Make(dtypes.Float32, 8, 3, 32, 32)))
	require.False(t, batched.Equal(Make(dtypes.Float16, 8, 3, 32, 32)))

	clone := s.Clone()
	clone.Dimensions[0] = 1
	require.Equal(t, 3, s.Dimensions[0])

	require.NoError(t, CheckDims(batched, 8, -1, 32, 32))
	require.Error(t, CheckDims(batched, 8, 3, 32))
	require.Error(t, CheckDims(batched, 8, 1, 32, 32))
}

func TestParseDimensions(t *testing.T) {
	dims, err := ParseDimensions("3,32,32")
	require.NoError(t, err)
	require.Equal(t, []int{3, 32, 32}, dims)

	dims, err = ParseDimensions("(3, 224x224)")
	require.NoError(t, err)
	require.Equal(t, []int{3, 224, 224}, dims)

	dims, err = ParseDimensions("")
	require.NoError(t, err)
	require.Empty(t, dims)

	_, err = ParseDimensions("3,a")
	require.Error(t, err)
	_, err = ParseDimensions("3,0")
	require.Error(t, err)
}
