// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"go.uber.org/goleak"
)

// pixelValue is the (constant) value of all pixels of the synthetic image of record #idx.
func pixelValue(idx int) uint8 { return uint8(10 * idx) }

// writeTestRecords writes a RecordIO file with numRecords constant gray images of 6x6 pixels, with
// label equal to the record index, and its listing (with labels 100+index).
func writeTestRecords(t *testing.T, numRecords int) (recPath, lstPath string) {
	dir := t.TempDir()
	recPath = filepath.Join(dir, "test.rec")
	lstPath = filepath.Join(dir, "test.lst")
	f, err := os.Create(recPath)
	require.NoError(t, err)
	w := NewWriter(f)
	var entries []ListEntry
	for idx := range numRecords {
		img := imaging.New(6, 6, color.NRGBA{R: pixelValue(idx), G: pixelValue(idx), B: pixelValue(idx), A: 255})
		encoded, err := EncodeImage(img, imaging.PNG)
		require.NoError(t, err)
		require.NoError(t, w.WriteRecord(PackImageRecord(uint64(idx), []float32{float32(idx)}, encoded)))
		entries = append(entries, ListEntry{Index: uint64(idx), Labels: []float32{float32(100 + idx)},
			Path: fmt.Sprintf("img%d.png", idx)})
	}
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())
	lf, err := os.Create(lstPath)
	require.NoError(t, err)
	require.NoError(t, WriteListing(lf, entries))
	require.NoError(t, lf.Close())
	return
}

func testOptions(recPath string) data.Options {
	return data.Options{
		"path_imgrec":        recPath,
		"data_shape":         []int{3, 4, 4},
		"batch_size":         4,
		"preprocess_threads": 2,
	}
}

// readLabels reads all batches until io.EOF and returns the labels of the non-padding examples, and the paddings.
func readLabels(t *testing.T, it data.Iterator) (labels []float32, pads []int) {
	for {
		batch, err := it.Next()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		values := must.M1(tensors.CopyFlatData[float32](batch.Label[0]))
		labels = append(labels, values[:len(values)-batch.Pad]...)
		pads = append(pads, batch.Pad)
	}
}

func TestImageRecordIter(t *testing.T) {
	recPath, _ := writeTestRecords(t, 10)
	it, err := NewImageRecordIter(testOptions(recPath))
	require.NoError(t, err)
	defer func() { require.NoError(t, it.(io.Closer).Close()) }()

	assert.Equal(t, "data", it.ProvideData()[0].Name)
	assert.Equal(t, []int{4, 3, 4, 4}, it.ProvideData()[0].Shape.Dimensions)
	assert.Equal(t, dtypes.Float32, it.ProvideData()[0].Shape.DType)
	assert.Equal(t, "softmax_label", it.ProvideLabel()[0].Name)
	assert.Equal(t, []int{4}, it.ProvideLabel()[0].Shape.Dimensions)

	batch, err := it.Next()
	require.NoError(t, err)
	require.True(t, batch.Data[0].Shape().Equal(it.ProvideData()[0].Shape))
	values := must.M1(tensors.CopyFlatData[float32](batch.Data[0]))
	for example := range 4 {
		for _, v := range values[example*48 : (example+1)*48] {
			require.Equal(t, float32(pixelValue(example)), v, "default scale is 1 and no mean")
		}
	}

	// Round batch: 10 records in batches of 4 -> 3 batches, the last with 2 filler examples.
	it.Reset()
	labels, pads := readLabels(t, it)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, labels)
	assert.Equal(t, []int{0, 0, 2}, pads)

	// Exhausted until Reset.
	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
	it.Reset()
	labels, _ = readLabels(t, it)
	assert.Len(t, labels, 10)
}

func TestImageRecordIterNoRoundBatch(t *testing.T) {
	recPath, _ := writeTestRecords(t, 10)
	opts := testOptions(recPath)
	opts["round_batch"] = false
	it, err := NewImageRecordIter(opts)
	require.NoError(t, err)
	defer func() { _ = it.(io.Closer).Close() }()
	labels, pads := readLabels(t, it)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, labels)
	assert.Equal(t, []int{0, 0}, pads)
}

func TestImageRecordIterPartitions(t *testing.T) {
	recPath, _ := writeTestRecords(t, 11)
	var all []float32
	for partIndex := range 3 {
		opts := testOptions(recPath)
		opts["num_parts"] = 3
		opts["part_index"] = partIndex
		opts["batch_size"] = 1
		it, err := newImageRecordIter(opts)
		require.NoError(t, err)
		start, end := PartitionRange(11, 3, partIndex)
		assert.Equal(t, end-start, it.NumRecords())
		labels, _ := readLabels(t, it)
		require.NoError(t, it.Close())
		all = append(all, labels...)
	}
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, all, "partitions must be disjoint and cover all records")
}

func TestPartitionRange(t *testing.T) {
	for _, numRecords := range []int{0, 1, 7, 100} {
		for numParts := 1; numParts <= 5; numParts++ {
			prevEnd := 0
			for part := range numParts {
				start, end := PartitionRange(numRecords, numParts, part)
				require.Equal(t, prevEnd, start)
				require.LessOrEqual(t, end-start, numRecords/numParts+1)
				prevEnd = end
			}
			require.Equal(t, numRecords, prevEnd)
		}
	}
}

func TestImageRecordIterShuffle(t *testing.T) {
	recPath, _ := writeTestRecords(t, 12)
	read := func(seed int) []float32 {
		opts := testOptions(recPath)
		opts["shuffle"] = true
		opts["seed"] = seed
		it, err := NewImageRecordIter(opts)
		require.NoError(t, err)
		defer func() { _ = it.(io.Closer).Close() }()
		labels, _ := readLabels(t, it)
		return labels
	}
	first := read(7)
	assert.Equal(t, first, read(7), "same seed must yield the same order")
	sorted := append([]float32(nil), first...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, sorted)
}

func TestImageRecordIterOptions(t *testing.T) {
	recPath, lstPath := writeTestRecords(t, 4)

	// Mean, scale and dtype.
	opts := testOptions(recPath)
	opts["mean_r"], opts["mean_g"], opts["mean_b"] = 10.0, 10.0, 10.0
	opts["scale"] = 0.5
	opts["dtype"] = "float16"
	it, err := NewImageRecordIter(opts)
	require.NoError(t, err)
	batch, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, dtypes.Float16, batch.Data[0].DType())
	values := must.M1(tensors.CopyFlatData[float16.Float16](batch.Data[0]))
	assert.Equal(t, float32(-5), values[0].Float32())
	assert.Equal(t, float32(10), values[3*48].Float32())
	require.NoError(t, it.(io.Closer).Close())

	opts = testOptions(recPath)
	opts["dtype"] = "uint8"
	opts["path_imglist"] = lstPath
	it, err = NewImageRecordIter(opts)
	require.NoError(t, err)
	batch, err = it.Next()
	require.NoError(t, err)
	require.Equal(t, dtypes.Uint8, batch.Data[0].DType())
	assert.Equal(t, []float32{100, 101, 102, 103}, must.M1(tensors.CopyFlatData[float32](batch.Label[0])),
		"labels from the listing")
	require.NoError(t, it.(io.Closer).Close())

	// Luma.
	opts = testOptions(recPath)
	opts["data_shape"] = "1,2,2"
	it, err = NewImageRecordIter(opts)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 2, 2}, it.ProvideData()[0].Shape.Dimensions)
	batch, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, float32(pixelValue(1)), must.M1(tensors.CopyFlatData[float32](batch.Data[0]))[4])
	require.NoError(t, it.(io.Closer).Close())

	// Invalid options.
	for name, change := range map[string]data.Options{
		"unknown":       {"unknown_option": 1},
		"no rec":        {"path_imgrec": nil},
		"missing rec":   {"path_imgrec": filepath.Join(t.TempDir(), "missing.rec")},
		"no shape":      {"data_shape": nil},
		"bad shape":     {"data_shape": []int{2, 4, 4}},
		"bad batch":     {"batch_size": 0},
		"bad dtype":     {"dtype": "int4"},
		"bad part":      {"num_parts": 2, "part_index": 2},
		"bad resize":    {"resize": 0},
		"bad bool":      {"rand_crop": "maybe"},
		"bad aspect":    {"max_aspect_ratio": 1.5},
		"bad label":     {"label_width": 2},
		"bad listing":   {"path_imglist": filepath.Join(t.TempDir(), "missing.lst")},
		"bad int type":  {"batch_size": []int{1}},
		"negative augs": {"random_h": -1},
	} {
		opts = testOptions(recPath).Update(change)
		it, err = NewImageRecordIter(opts)
		if name == "bad label" {
			// Label width is only checked against the records when reading.
			require.NoError(t, err)
			_, err = it.Next()
			require.ErrorContains(t, err, "label_width", name)
			require.NoError(t, it.(io.Closer).Close())
			continue
		}
		require.Error(t, err, name)
	}
}

func TestImageRecordIterAugmentation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	recPath, _ := writeTestRecords(t, 9)
	cfg := data.DefaultAugmentConfig()
	cfg.BatchSize = 3
	cfg.DataShape = []int{3, 4, 4}
	cfg.AugLevel = 3
	cfg.MeanSubtraction = true
	cfg.NumWorkers = 3
	cfg.Resize = 8
	train, _ := data.BuildOptions(cfg)
	train["path_imgrec"] = recPath
	train["prefetch_buffer"] = 2
	train["seed"] = 1
	it, err := NewImageRecordIter(train)
	require.NoError(t, err)
	_, isPrefetch := it.(*data.PrefetchIter)
	require.True(t, isPrefetch)
	labels, pads := readLabels(t, it)
	assert.Len(t, labels, 9)
	assert.Equal(t, []int{0, 0, 0}, pads)
	require.NoError(t, it.(io.Closer).Close())
}

func TestComputeChannelStats(t *testing.T) {
	recPath, _ := writeTestRecords(t, 5)
	opts := testOptions(recPath)
	opts["batch_size"] = 2
	it, err := NewImageRecordIter(opts)
	require.NoError(t, err)
	defer func() { _ = it.(io.Closer).Close() }()
	stats, err := ComputeChannelStats(it, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.NumExamples)
	// Values are 0, 10, 20, 30, 40: mean 20, population stddev sqrt(200).
	for c := range 3 {
		assert.InDelta(t, 20.0, stats.Mean[c], 1e-6)
		assert.InDelta(t, 14.142135, stats.StdDev[c], 1e-5)
	}

	it.Reset()
	stats, err = ComputeChannelStats(it, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumExamples)
	assert.InDelta(t, 5.0, stats.Mean[0], 1e-6)

	_, err = ComputeChannelStats(data.NewDummyIter(1, []int{3}, 1), 0)
	require.Error(t, err)
}

func TestShearHorizontal(t *testing.T) {
	img := imaging.New(4, 3, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	sheared := shearHorizontal(img, 1).(*image.NRGBA)
	// Top row shifts left by 1: the rightmost pixel is filled with black.
	assert.Equal(t, color.NRGBA{A: 255}, sheared.NRGBAAt(3, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}, sheared.NRGBAAt(0, 0))
	// The center row is not shifted.
	assert.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}, sheared.NRGBAAt(3, 1))
}

func TestImageRecordIterThreadsPerCPU(t *testing.T) {
	recPath, _ := writeTestRecords(t, 6)
	opts := testOptions(recPath)
	opts["preprocess_threads"] = 0
	opts["round_batch"] = false
	it, err := NewImageRecordIter(opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, it.(io.Closer).Close()) }()
	labels, pads := readLabels(t, it)
	assert.Equal(t, []float32{0, 1, 2, 3}, labels)
	assert.Equal(t, []int{0}, pads)
}
