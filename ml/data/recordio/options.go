// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"strings"

	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/pkg/support/sets"
	"github.com/gomlx/bmxtools/pkg/support/xslices"
	"github.com/gomlx/bmxtools/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// KnownOptions lists the options accepted by NewImageRecordIter.
var KnownOptions = sets.MakeWith(
	"path_imgrec", "path_imglist", "data_shape", "batch_size", "label_width",
	"resize", "rand_crop", "rand_mirror",
	"random_h", "random_s", "random_l",
	"max_rotate_angle", "max_shear_ratio", "max_aspect_ratio",
	"mean_r", "mean_g", "mean_b", "scale",
	"num_parts", "part_index", "preprocess_threads", "dtype",
	"shuffle", "seed", "round_batch", "prefetch_buffer",
)

// SupportedDTypes maps the values of the "dtype" option to the dtype of the data batches.
var SupportedDTypes = map[string]dtypes.DType{
	"float32": dtypes.Float32,
	"float16": dtypes.Float16,
	"float64": dtypes.Float64,
	"uint8":   dtypes.Uint8,
}

// iterConfig holds the parsed options of an ImageRecordIter.
type iterConfig struct {
	pathImgRec, pathImgList string
	channels, height, width int
	batchSize, labelWidth   int
	resize                  int

	randCrop, randMirror                         bool
	randomH, randomS, randomL                    float64
	maxRotateAngle, maxShearRatio, maxAspectRatio float64

	mean  []float64
	scale float64

	numParts, partIndex int
	preprocessThreads   int
	dtype               dtypes.DType

	shuffle        bool
	seed           int64
	roundBatch     bool
	prefetchBuffer int
}

// hasColorJitter returns whether any of the HSL jitter options is set.
func (cfg *iterConfig) hasColorJitter() bool {
	return cfg.randomH > 0 || cfg.randomS > 0 || cfg.randomL > 0
}

// hasGeometric returns whether any of the geometric augmentation options is set.
func (cfg *iterConfig) hasGeometric() bool {
	return cfg.maxRotateAngle > 0 || cfg.maxShearRatio > 0 || cfg.maxAspectRatio > 0
}

// parseOptions validates opts and returns the parsed configuration.
func parseOptions(opts data.Options) (*iterConfig, error) {
	for key := range opts {
		if !KnownOptions.Has(key) {
			return nil, errors.Errorf("ImageRecordIter: unknown option %q", key)
		}
	}
	cfg := &iterConfig{}
	var err error
	// setters are evaluated in order, and stop at the first error.
	setters := []func() error{
		func() (err error) { cfg.pathImgRec, err = opts.Str("path_imgrec", ""); return },
		func() (err error) { cfg.pathImgList, err = opts.Str("path_imglist", ""); return },
		func() (err error) { cfg.batchSize, err = opts.Int("batch_size", 0); return },
		func() (err error) { cfg.labelWidth, err = opts.Int("label_width", 1); return },
		func() (err error) { cfg.resize, err = opts.Int("resize", -1); return },
		func() (err error) { cfg.randCrop, err = opts.Bool("rand_crop", false); return },
		func() (err error) { cfg.randMirror, err = opts.Bool("rand_mirror", false); return },
		func() (err error) { cfg.randomH, err = opts.Float("random_h", 0); return },
		func() (err error) { cfg.randomS, err = opts.Float("random_s", 0); return },
		func() (err error) { cfg.randomL, err = opts.Float("random_l", 0); return },
		func() (err error) { cfg.maxRotateAngle, err = opts.Float("max_rotate_angle", 0); return },
		func() (err error) { cfg.maxShearRatio, err = opts.Float("max_shear_ratio", 0); return },
		func() (err error) { cfg.maxAspectRatio, err = opts.Float("max_aspect_ratio", 0); return },
		func() (err error) { cfg.scale, err = opts.Float("scale", 1); return },
		func() (err error) { cfg.numParts, err = opts.Int("num_parts", 1); return },
		func() (err error) { cfg.partIndex, err = opts.Int("part_index", 0); return },
		func() (err error) { cfg.preprocessThreads, err = opts.Int("preprocess_threads", 4); return },
		func() (err error) { cfg.shuffle, err = opts.Bool("shuffle", false); return },
		func() (err error) { cfg.roundBatch, err = opts.Bool("round_batch", true); return },
		func() (err error) { cfg.prefetchBuffer, err = opts.Int("prefetch_buffer", 0); return },
		func() error {
			seed, err := opts.Int("seed", 0)
			cfg.seed = int64(seed)
			return err
		},
		func() error { return cfg.parseDataShape(opts) },
		func() error { return cfg.parseMean(opts) },
		func() error { return cfg.parseDType(opts) },
	}
	for _, setter := range setters {
		if err = setter(); err != nil {
			return nil, errors.WithMessage(err, "ImageRecordIter")
		}
	}
	if err = cfg.validate(); err != nil {
		return nil, errors.WithMessage(err, "ImageRecordIter")
	}
	return cfg, nil
}

func (cfg *iterConfig) parseDataShape(opts data.Options) error {
	dims, err := opts.Dimensions("data_shape")
	if err != nil {
		return err
	}
	if len(dims) != 3 {
		return errors.Errorf("option \"data_shape\" must be set to [channels, height, width], got %v", dims)
	}
	cfg.channels, cfg.height, cfg.width = dims[0], dims[1], dims[2]
	if cfg.channels != images.Luma && cfg.channels != images.RGB {
		return errors.Errorf("option \"data_shape\" must have 1 or 3 channels, got %v", dims)
	}
	return nil
}

func (cfg *iterConfig) parseMean(opts data.Options) error {
	if !opts.IsSet("mean_r") && !opts.IsSet("mean_g") && !opts.IsSet("mean_b") {
		return nil
	}
	cfg.mean = make([]float64, 3)
	for ii, key := range []string{"mean_r", "mean_g", "mean_b"} {
		var err error
		cfg.mean[ii], err = opts.Float(key, 0)
		if err != nil {
			return err
		}
	}
	if cfg.channels == images.Luma {
		// Luma images use the red mean.
		cfg.mean = cfg.mean[:1]
	}
	return nil
}

func (cfg *iterConfig) parseDType(opts data.Options) error {
	name, err := opts.Str("dtype", "float32")
	if err != nil {
		return err
	}
	dtype, found := SupportedDTypes[strings.ToLower(name)]
	if !found {
		return errors.Errorf("option \"dtype\"=%q not supported, use one of %v", name, xslices.SortedKeys(SupportedDTypes))
	}
	cfg.dtype = dtype
	return nil
}

func (cfg *iterConfig) validate() error {
	switch {
	case cfg.pathImgRec == "":
		return errors.New("option \"path_imgrec\" is required")
	case cfg.batchSize <= 0:
		return errors.Errorf("option \"batch_size\" must be > 0, got %d", cfg.batchSize)
	case cfg.labelWidth <= 0:
		return errors.Errorf("option \"label_width\" must be > 0, got %d", cfg.labelWidth)
	case cfg.numParts <= 0:
		return errors.Errorf("option \"num_parts\" must be > 0, got %d", cfg.numParts)
	case cfg.partIndex < 0 || cfg.partIndex >= cfg.numParts:
		return errors.Errorf("option \"part_index\" must be in [0, %d), got %d", cfg.numParts, cfg.partIndex)
	case cfg.resize == 0 || cfg.resize < -1:
		return errors.Errorf("option \"resize\" must be -1 (disabled) or > 0, got %d", cfg.resize)
	case cfg.scale == 0:
		return errors.New("option \"scale\" must be != 0")
	case cfg.maxAspectRatio >= 1:
		return errors.Errorf("option \"max_aspect_ratio\" must be < 1, got %g", cfg.maxAspectRatio)
	case cfg.randomH < 0 || cfg.randomS < 0 || cfg.randomL < 0 ||
		cfg.maxRotateAngle < 0 || cfg.maxShearRatio < 0 || cfg.maxAspectRatio < 0:
		return errors.New("augmentation options must be >= 0")
	case cfg.prefetchBuffer < 0:
		return errors.Errorf("option \"prefetch_buffer\" must be >= 0, got %d", cfg.prefetchBuffer)
	}
	return nil
}
