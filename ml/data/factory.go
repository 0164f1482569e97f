// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/bmxtools/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// AugmentConfig configures the pair of train/validation record iterators created by AugmentedTrainVal.
type AugmentConfig struct {
	// BatchSize is the number of examples per batch.
	BatchSize int `yaml:"batch_size"`

	// DataShape is the shape of one example, `[channels, height, width]`.
	DataShape []int `yaml:"data_shape"`

	// Resize is the size of the shorter edge images are resized to before cropping. -1 disables resizing.
	Resize int `yaml:"resize"`

	// NumParts and PartIndex select the shard of the data read by this process.
	NumParts  int `yaml:"num_parts"`
	PartIndex int `yaml:"part_index"`

	// Dir is the base directory of the record files.
	Dir string `yaml:"dir"`

	// AugLevel controls the amount of augmentation of the training data: 0 for none, and
	// 1, 2 or 3 for increasing levels. See TrainOverlays.
	AugLevel int `yaml:"aug_level"`

	// MeanSubtraction subtracts the ImageNet RGB mean (MeanOverlay) from both train and validation data.
	MeanSubtraction bool `yaml:"mean_subtraction"`

	// NumWorkers is the number of decoding threads.
	NumWorkers int `yaml:"num_workers"`

	// DType of the data batches. If empty the record iterator default is used.
	DType string `yaml:"dtype"`

	// TrainPath and ValPath are the path components, relative to Dir, of the train and validation record files.
	TrainPath []string `yaml:"train_path"`
	ValPath   []string `yaml:"val_path"`
}

// DefaultAugmentConfig returns the default configuration. BatchSize and DataShape have no sensible default
// and are left unset.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		Resize:     -1,
		NumParts:   1,
		PartIndex:  0,
		AugLevel:   1,
		NumWorkers: 4,
		TrainPath:  []string{"cifar", "train.rec"},
		ValPath:    []string{"cifar", "test.rec"},
	}
}

// LoadAugmentConfig reads a YAML file with fields of AugmentConfig (snake case) over the given base configuration.
// Fields absent from the file keep the value in base.
func LoadAugmentConfig(path string, base AugmentConfig) (AugmentConfig, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return base, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(err, "failed to read configuration %q", path)
	}
	cfg := base
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return base, errors.Wrapf(err, "failed to parse configuration %q", path)
	}
	return cfg, nil
}

// OverlayRule is a set of options merged over the training options when Applies returns true.
type OverlayRule struct {
	Name    string
	Applies func(cfg AugmentConfig) bool
	Options Options
}

func augLevelAtLeast(level int) func(cfg AugmentConfig) bool {
	return func(cfg AugmentConfig) bool { return cfg.AugLevel >= level }
}

// TrainOverlays are applied in order to the training options only.
var TrainOverlays = []OverlayRule{
	{
		Name:    "crop_mirror",
		Applies: augLevelAtLeast(1),
		Options: Options{"rand_crop": true, "rand_mirror": true},
	},
	{
		Name:    "color",
		Applies: augLevelAtLeast(2),
		Options: Options{"random_h": 36, "random_s": 50, "random_l": 50},
	},
	{
		Name:    "geometric",
		Applies: augLevelAtLeast(3),
		Options: Options{"max_rotate_angle": 10, "max_shear_ratio": 0.1, "max_aspect_ratio": 0.25},
	},
}

// MeanOverlay is applied to both training and validation options when AugmentConfig.MeanSubtraction is set.
var MeanOverlay = OverlayRule{
	Name:    "mean",
	Applies: func(cfg AugmentConfig) bool { return cfg.MeanSubtraction },
	Options: Options{"mean_r": 123.68, "mean_g": 116.779, "mean_b": 103.939},
}

// BuildOptions returns the options of the training and validation record iterators for the given configuration.
// It doesn't validate them: that is left to the record iterator.
func BuildOptions(cfg AugmentConfig) (train, val Options) {
	base := Options{
		"resize":             cfg.Resize,
		"rand_crop":          false,
		"rand_mirror":        false,
		"data_shape":         append([]int(nil), cfg.DataShape...),
		"batch_size":         cfg.BatchSize,
		"num_parts":          cfg.NumParts,
		"part_index":         cfg.PartIndex,
		"preprocess_threads": cfg.NumWorkers,
		"dtype":              nil,
	}
	if cfg.DType != "" {
		base["dtype"] = cfg.DType
	}
	train = Options{"path_imgrec": filepath.Join(append([]string{cfg.Dir}, cfg.TrainPath...)...)}.Update(base)
	val = Options{"path_imgrec": filepath.Join(append([]string{cfg.Dir}, cfg.ValPath...)...)}.Update(base)
	for _, rule := range TrainOverlays {
		if rule.Applies(cfg) {
			train.Update(rule.Options)
		}
	}
	if MeanOverlay.Applies(cfg) {
		train.Update(MeanOverlay.Options)
		val.Update(MeanOverlay.Options)
	}
	return
}

// RecordIterConstructor creates a record iterator from its options.
type RecordIterConstructor func(opts Options) (Iterator, error)

// AugmentedTrainVal creates the training and validation iterators configured by cfg (see BuildOptions)
// with newIter.
func AugmentedTrainVal(cfg AugmentConfig, newIter RecordIterConstructor) (train, val Iterator, err error) {
	trainOpts, valOpts := BuildOptions(cfg)
	klog.V(1).Infof("training iterator options:\n%s", trainOpts)
	train, err = newIter(trainOpts)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "creating training iterator for %q", trainOpts["path_imgrec"])
	}
	val, err = newIter(valOpts)
	if err != nil {
		if closer, ok := train.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, nil, errors.WithMessagef(err, "creating validation iterator for %q", valOpts["path_imgrec"])
	}
	return train, val, nil
}
