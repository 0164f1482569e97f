// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/gomlx/bmxtools/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImagePairExtensions are the file extensions (lower case) listed by NewImagePairIter.
// Matching ignores case, so "IMG.PNG" is listed as well.
var ImagePairExtensions = []string{".png", ".jpg", ".jpeg"}

// Flags for the color conversion of NewImagePairIter.
const (
	// ImagePairLuma keeps only the luma channel (the "Y" of YCbCr) of the images.
	ImagePairLuma = 0

	// ImagePairRGB keeps the 3 RGB channels.
	ImagePairRGB = 1
)

// ImagePairIter yields pairs of images (input, target) derived from the same image file, as used
// to train super-resolution models: both start as a copy of the image, and each is transformed by its
// own sequence of augmenters (e.g. the input is downscaled).
//
// Batches have one data tensor ("data") and one label tensor ("label"), both Float32 shaped
// `[batch_size, channels, height, width]` with values in [0, 1].
type ImagePairIter struct {
	dir                 string
	files               []string
	cursor, batchSize   int
	channels            int
	dataDesc, labelDesc Desc
	inputAug, targetAug []Augmenter
	rng                 *rand.Rand
}

// Compile-time check that ImagePairIter implements Iterator.
var _ Iterator = (*ImagePairIter)(nil)

// NewImagePairIter lists the images in dir and returns an iterator over them in random order.
//
// dataShape and labelShape are the shapes `[channels, height, width]` of one input and one target,
// after their augmenters are applied. flag is ImagePairLuma or ImagePairRGB.
func NewImagePairIter(dir string, dataShape, labelShape []int, batchSize, flag int,
	inputAug, targetAug []Augmenter) (*ImagePairIter, error) {
	var channels int
	switch flag {
	case ImagePairLuma:
		channels = images.Luma
	case ImagePairRGB:
		channels = images.RGB
	default:
		return nil, errors.Errorf("NewImagePairIter: invalid flag %d, use ImagePairLuma (0) or ImagePairRGB (1)", flag)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("NewImagePairIter: batch size must be > 0, got %d", batchSize)
	}
	if len(dataShape) != 3 || len(labelShape) != 3 {
		return nil, errors.Errorf("NewImagePairIter: data and label shapes must be [channels, height, width], got %v and %v",
			dataShape, labelShape)
	}
	if dataShape[0] != channels || labelShape[0] != channels {
		return nil, errors.Errorf("NewImagePairIter: flag %d yields %d channels, but data and label shapes are %v and %v",
			flag, channels, dataShape, labelShape)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "NewImagePairIter: failed to list %q", dir)
	}
	it := &ImagePairIter{
		dir:       dir,
		batchSize: batchSize,
		channels:  channels,
		dataDesc: Desc{Name: "data",
			Shape: shapes.Make(dtypes.Float32, dataShape...).WithBatch(batchSize)},
		labelDesc: Desc{Name: "label",
			Shape: shapes.Make(dtypes.Float32, labelShape...).WithBatch(batchSize)},
		inputAug:  inputAug,
		targetAug: targetAug,
		rng:       rand.New(rand.NewSource(time.Now().UTC().UnixNano())),
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if slices.Contains(ImagePairExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			it.files = append(it.files, filepath.Join(dir, entry.Name()))
		}
	}
	klog.V(1).Infof("NewImagePairIter: %d images found in %q", len(it.files), dir)
	it.shuffle()
	return it, nil
}

// WithSeed sets the random seed used to shuffle the images and reshuffles them. Used for reproducibility.
//
// It returns the iterator, so calls can be cascaded.
func (it *ImagePairIter) WithSeed(seed int64) *ImagePairIter {
	it.rng = rand.New(rand.NewSource(seed))
	slices.Sort(it.files)
	it.shuffle()
	return it
}

func (it *ImagePairIter) shuffle() {
	it.rng.Shuffle(len(it.files), func(i, j int) {
		it.files[i], it.files[j] = it.files[j], it.files[i]
	})
}

// Files returns the image files in the current order. The returned slice must not be modified.
func (it *ImagePairIter) Files() []string { return it.files }

// Name implements Iterator.
func (it *ImagePairIter) Name() string {
	return fmt.Sprintf("image_pairs(%s)", it.dir)
}

// Reset implements Iterator: it rewinds and reshuffles the images.
func (it *ImagePairIter) Reset() {
	it.cursor = 0
	it.shuffle()
}

// BatchSize implements Iterator.
func (it *ImagePairIter) BatchSize() int { return it.batchSize }

// ProvideData implements Iterator.
func (it *ImagePairIter) ProvideData() []Desc { return []Desc{it.dataDesc} }

// ProvideLabel implements Iterator.
func (it *ImagePairIter) ProvideLabel() []Desc { return []Desc{it.labelDesc} }

// Next implements Iterator. It returns io.EOF when there are fewer than BatchSize images left:
// the remainder of the images is dropped.
func (it *ImagePairIter) Next() (*Batch, error) {
	if it.cursor+it.batchSize > len(it.files) {
		return nil, io.EOF
	}
	batchFiles := it.files[it.cursor : it.cursor+it.batchSize]
	it.cursor += it.batchSize

	inputs := make([]*tensors.Tensor, 0, it.batchSize)
	targets := make([]*tensors.Tensor, 0, it.batchSize)
	for _, path := range batchFiles {
		input, target, err := it.loadPair(path)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
		targets = append(targets, target)
	}
	toTensor := images.ToTensor(dtypes.Float32).ChannelsAxis(images.ChannelsFirst)
	data, err := toTensor.Batch(inputs)
	if err != nil {
		return nil, errors.WithMessage(err, "ImagePairIter: batching inputs")
	}
	label, err := toTensor.Batch(targets)
	if err != nil {
		return nil, errors.WithMessage(err, "ImagePairIter: batching targets")
	}
	return &Batch{Data: []*tensors.Tensor{data}, Label: []*tensors.Tensor{label}}, nil
}

// loadPair reads one image and returns the augmented input and target, shaped `[height, width, channels]`.
func (it *ImagePairIter) loadPair(path string) (input, target *tensors.Tensor, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "ImagePairIter: failed to decode image %q", path)
	}
	if size := img.Bounds().Size(); size.X > size.Y {
		img = imaging.Transpose(img)
	}
	input, err = images.FromImage(img, it.channels)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "ImagePairIter: image %q", path)
	}
	target = input.Clone()
	input = applyAugmenters(input, it.inputAug)
	target = applyAugmenters(target, it.targetAug)
	if err = checkAugmented(input, it.dataDesc.Shape); err != nil {
		return nil, nil, errors.WithMessagef(err, "ImagePairIter: input from %q", path)
	}
	if err = checkAugmented(target, it.labelDesc.Shape); err != nil {
		return nil, nil, errors.WithMessagef(err, "ImagePairIter: target from %q", path)
	}
	return input, target, nil
}

// checkAugmented checks that img, shaped `[height, width, channels]`, matches the batch shape
// `[batch_size, channels, height, width]`.
func checkAugmented(img *tensors.Tensor, batchShape shapes.Shape) error {
	channels, height, width := batchShape.Dim(1), batchShape.Dim(2), batchShape.Dim(3)
	if err := shapes.CheckDims(img, height, width, channels); err != nil {
		return errors.WithMessagef(err, "augmented image doesn't match declared shape [%d %d %d]", channels, height, width)
	}
	return nil
}
