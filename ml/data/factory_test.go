// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var colorKeys = []string{"random_h", "random_s", "random_l"}
var geometricKeys = []string{"max_rotate_angle", "max_shear_ratio", "max_aspect_ratio"}
var meanKeys = []string{"mean_r", "mean_g", "mean_b"}

func testAugmentConfig() AugmentConfig {
	cfg := DefaultAugmentConfig()
	cfg.BatchSize = 128
	cfg.DataShape = []int{3, 28, 28}
	cfg.Dir = "/data"
	return cfg
}

func TestBuildOptionsBase(t *testing.T) {
	cfg := testAugmentConfig()
	cfg.AugLevel = 0
	train, val := BuildOptions(cfg)
	assert.Equal(t, filepath.Join("/data", "cifar", "train.rec"), train["path_imgrec"])
	assert.Equal(t, filepath.Join("/data", "cifar", "test.rec"), val["path_imgrec"])
	for _, opts := range []Options{train, val} {
		assert.Equal(t, -1, opts["resize"])
		assert.Equal(t, false, opts["rand_crop"])
		assert.Equal(t, false, opts["rand_mirror"])
		assert.Equal(t, []int{3, 28, 28}, opts["data_shape"])
		assert.Equal(t, 128, opts["batch_size"])
		assert.Equal(t, 1, opts["num_parts"])
		assert.Equal(t, 0, opts["part_index"])
		assert.Equal(t, 4, opts["preprocess_threads"])
		assert.Contains(t, opts, "dtype")
		assert.Nil(t, opts["dtype"])
		assert.False(t, opts.IsSet("dtype"))
		for _, key := range append(append(append([]string{}, colorKeys...), geometricKeys...), meanKeys...) {
			assert.NotContains(t, opts, key)
		}
	}

	// Options don't share the data shape slice.
	train["data_shape"].([]int)[0] = 1
	assert.Equal(t, []int{3, 28, 28}, val["data_shape"])
	assert.Equal(t, []int{3, 28, 28}, cfg.DataShape)
}

func TestBuildOptionsAugLevels(t *testing.T) {
	for level := 0; level <= 4; level++ {
		cfg := testAugmentConfig()
		cfg.AugLevel = level
		train, val := BuildOptions(cfg)

		assert.Equal(t, level >= 1, train["rand_crop"], "level=%d", level)
		assert.Equal(t, level >= 1, train["rand_mirror"], "level=%d", level)
		for _, key := range colorKeys {
			assert.Equal(t, level >= 2, train.IsSet(key), "level=%d key=%s", level, key)
		}
		for _, key := range geometricKeys {
			assert.Equal(t, level >= 3, train.IsSet(key), "level=%d key=%s", level, key)
		}

		// Exactly the cumulative set of options: 9 base options plus the path, and 3 per overlay applied.
		wantLen := 10
		if level >= 2 {
			wantLen += len(colorKeys)
		}
		if level >= 3 {
			wantLen += len(geometricKeys)
		}
		assert.Len(t, train, wantLen, "level=%d: %s", level, train)
		assert.Len(t, val, 10, "level=%d: %s", level, val)

		// Validation is never augmented.
		assert.Equal(t, false, val["rand_crop"])
		assert.Equal(t, false, val["rand_mirror"])
		for _, key := range append(append([]string{}, colorKeys...), geometricKeys...) {
			assert.NotContains(t, val, key)
		}
	}

	cfg := testAugmentConfig()
	cfg.AugLevel = 3
	train, _ := BuildOptions(cfg)
	assert.Equal(t, 36, train["random_h"])
	assert.Equal(t, 50, train["random_s"])
	assert.Equal(t, 50, train["random_l"])
	assert.Equal(t, 10, train["max_rotate_angle"])
	assert.Equal(t, 0.1, train["max_shear_ratio"])
	assert.Equal(t, 0.25, train["max_aspect_ratio"])
}

func TestBuildOptionsMean(t *testing.T) {
	cfg := testAugmentConfig()
	cfg.MeanSubtraction = true
	cfg.DType = "float16"
	train, val := BuildOptions(cfg)
	for _, opts := range []Options{train, val} {
		assert.Equal(t, 123.68, opts["mean_r"])
		assert.Equal(t, 116.779, opts["mean_g"])
		assert.Equal(t, 103.939, opts["mean_b"])
		assert.Equal(t, "float16", opts["dtype"])
	}
	assert.Len(t, val, 10+len(meanKeys))
	assert.Len(t, train, 10+len(meanKeys))
}

// recordingConstructor records the options it was called with, and fails on the given call number.
type recordingConstructor struct {
	calls  []Options
	failAt int
}

func (rc *recordingConstructor) New(opts Options) (Iterator, error) {
	rc.calls = append(rc.calls, opts)
	if len(rc.calls) == rc.failAt {
		return nil, errors.New("cannot open records")
	}
	return &testIter{maxValue: 1}, nil
}

func TestAugmentedTrainVal(t *testing.T) {
	rc := &recordingConstructor{}
	cfg := testAugmentConfig()
	train, val, err := AugmentedTrainVal(cfg, rc.New)
	require.NoError(t, err)
	require.NotNil(t, train)
	require.NotNil(t, val)
	require.Len(t, rc.calls, 2)
	wantTrain, wantVal := BuildOptions(cfg)
	assert.Equal(t, wantTrain, rc.calls[0])
	assert.Equal(t, wantVal, rc.calls[1])

	rc = &recordingConstructor{failAt: 2}
	_, _, err = AugmentedTrainVal(cfg, rc.New)
	require.ErrorContains(t, err, "cannot open records")
	require.ErrorContains(t, err, "validation")
}

func TestLoadAugmentConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batch_size: 64
data_shape: [3, 32, 32]
aug_level: 2
mean_subtraction: true
dtype: float16
`), 0644))
	cfg, err := LoadAugmentConfig(path, DefaultAugmentConfig())
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, []int{3, 32, 32}, cfg.DataShape)
	assert.Equal(t, 2, cfg.AugLevel)
	assert.True(t, cfg.MeanSubtraction)
	assert.Equal(t, "float16", cfg.DType)
	// Unchanged defaults.
	assert.Equal(t, -1, cfg.Resize)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, []string{"cifar", "train.rec"}, cfg.TrainPath)

	_, err = LoadAugmentConfig(filepath.Join(t.TempDir(), "missing.yaml"), DefaultAugmentConfig())
	require.Error(t, err)
}
