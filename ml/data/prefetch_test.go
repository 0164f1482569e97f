// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"testing"

	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// testIter yields maxValue batches, each with one scalar tensor holding the batch number.
type testIter struct {
	count, maxValue int
	failAt          int
	resets          int
	closed          bool
}

func (it *testIter) Name() string { return "testIter" }
func (it *testIter) Reset() {
	it.count = 0
	it.resets++
}
func (it *testIter) BatchSize() int       { return 1 }
func (it *testIter) ProvideData() []Desc  { return nil }
func (it *testIter) ProvideLabel() []Desc { return nil }
func (it *testIter) Close() error {
	it.closed = true
	return nil
}
func (it *testIter) Next() (*Batch, error) {
	if it.count >= it.maxValue {
		return nil, io.EOF
	}
	it.count++
	if it.failAt > 0 && it.count == it.failAt {
		return nil, errors.Errorf("failed at %d", it.count)
	}
	return &Batch{Data: []*tensors.Tensor{tensors.FromFlatDataAndDimensions([]int32{int32(it.count)})}}, nil
}

func readAll(t *testing.T, it Iterator) (values []int32) {
	for {
		batch, err := it.Next()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		require.Len(t, batch.Data, 1)
		values = append(values, must.M1(tensors.CopyFlatData[int32](batch.Data[0]))[0])
	}
}

func TestPrefetch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	for _, bufferSize := range []int{1, 10} {
		base := &testIter{maxValue: 100}
		p := Prefetch(base, bufferSize)
		values := readAll(t, p)
		require.Len(t, values, 100, "bufferSize=%d", bufferSize)
		for ii, v := range values {
			require.Equal(t, int32(ii+1), v, "batches must keep their order")
		}

		// io.EOF is sticky until Reset.
		_, err := p.Next()
		require.ErrorIs(t, err, io.EOF)

		p.Reset()
		assert.Equal(t, 1, base.resets)
		require.Len(t, readAll(t, p), 100, "bufferSize=%d, after Reset", bufferSize)

		require.NoError(t, p.Close())
		require.True(t, base.closed)
		require.NoError(t, p.Close())
		_, err = p.Next()
		require.Error(t, err)
	}
}

func TestPrefetchResetMidEpoch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	base := &testIter{maxValue: 1000}
	p := Prefetch(base, 4)
	for range 3 {
		_, err := p.Next()
		require.NoError(t, err)
	}
	p.Reset()
	values := readAll(t, p)
	require.Len(t, values, 1000)
	require.Equal(t, int32(1), values[0])
	require.NoError(t, p.Close())
}

func TestPrefetchError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	base := &testIter{maxValue: 10, failAt: 5}
	p := Prefetch(base, 2)
	for range 4 {
		_, err := p.Next()
		require.NoError(t, err)
	}
	_, err := p.Next()
	require.ErrorContains(t, err, "failed at 5")
	_, err = p.Next()
	require.ErrorContains(t, err, "failed at 5", "error must be sticky")
	require.NoError(t, p.Close())
}

func TestPrefetchCloseWithoutReading(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	p := Prefetch(&testIter{maxValue: 1000}, 0)
	assert.Contains(t, p.Name(), "testIter")
	require.NoError(t, p.Close())
}
