// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"io"
	"math"

	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/stat"
)

// ChannelStats holds the per-channel statistics of the images of an iterator.
type ChannelStats struct {
	Mean, StdDev []float64

	// NumExamples used to compute the statistics (padding excluded).
	NumExamples int
}

// ComputeChannelStats reads up to maxBatches batches (all if maxBatches <= 0) from it and returns the
// mean and (population) standard deviation of each channel of the first data tensor, which must be shaped
// `[batch_size, channels, height, width]`. The iterator is not reset, neither before nor after.
func ComputeChannelStats(it data.Iterator, maxBatches int) (*ChannelStats, error) {
	descs := it.ProvideData()
	if len(descs) == 0 || descs[0].Shape.Rank() != 4 {
		return nil, errors.Errorf("ComputeChannelStats(%q): data must be shaped [batch, channels, height, width], got %v",
			it.Name(), descs)
	}
	numChannels := descs[0].Shape.Dim(1)
	// One entry per (batch, channel): weights are the number of values, so batches with padding count less.
	batchMeans := make([][]float64, numChannels)
	batchSecondMoments := make([][]float64, numChannels)
	var weights []float64
	stats := &ChannelStats{}
	for numBatches := 0; maxBatches <= 0 || numBatches < maxBatches; numBatches++ {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessage(err, "ComputeChannelStats")
		}
		values, err := tensors.CopyFlatData[float32](batch.Data[0])
		if err != nil {
			values, err = asFloat32(batch.Data[0])
			if err != nil {
				return nil, err
			}
		}
		batchSize := batch.Data[0].Shape().Dim(0)
		numExamples := batchSize - batch.Pad
		if numExamples <= 0 {
			continue
		}
		channelSize := len(values) / (batchSize * numChannels)
		channelValues := make([]float64, 0, numExamples*channelSize)
		for c := range numChannels {
			channelValues = channelValues[:0]
			for example := range numExamples {
				base := (example*numChannels + c) * channelSize
				for _, v := range values[base : base+channelSize] {
					channelValues = append(channelValues, float64(v))
				}
			}
			mean, variance := stat.PopMeanVariance(channelValues, nil)
			batchMeans[c] = append(batchMeans[c], mean)
			batchSecondMoments[c] = append(batchSecondMoments[c], variance+mean*mean)
		}
		weights = append(weights, float64(numExamples*channelSize))
		stats.NumExamples += numExamples
	}
	if stats.NumExamples == 0 {
		return nil, errors.Errorf("ComputeChannelStats(%q): no examples", it.Name())
	}
	stats.Mean = make([]float64, numChannels)
	stats.StdDev = make([]float64, numChannels)
	for c := range numChannels {
		mean := stat.Mean(batchMeans[c], weights)
		secondMoment := stat.Mean(batchSecondMoments[c], weights)
		stats.Mean[c] = mean
		stats.StdDev[c] = math.Sqrt(max(secondMoment-mean*mean, 0))
	}
	return stats, nil
}

// asFloat32 converts the values of tensors of other dtypes to float32.
func asFloat32(t *tensors.Tensor) ([]float32, error) {
	var values []float32
	var err error
	t.ConstFlatData(func(flatAny any) {
		switch flat := flatAny.(type) {
		case []uint8:
			values = make([]float32, len(flat))
			for ii, v := range flat {
				values[ii] = float32(v)
			}
		case []float64:
			values = make([]float32, len(flat))
			for ii, v := range flat {
				values[ii] = float32(v)
			}
		case []float16.Float16:
			values = make([]float32, len(flat))
			for ii, v := range flat {
				values[ii] = v.Float32()
			}
		default:
			err = errors.Errorf("ComputeChannelStats: dtype %s not supported", t.DType())
		}
	})
	return values, err
}
