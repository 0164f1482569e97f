// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors.
//
// Single images are represented as Uint8 tensors shaped `[height, width, channels]` (channels-last),
// with 1 channel (luma) or 3 channels (RGB). Batches are converted to the layout and dtype
// consumed by a model with ToTensorConfig.
package images

import (
	"image"
	"image/color"
	"math"

	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ChannelsAxisConfig indicates where the channels axis is in a batch of images.
type ChannelsAxisConfig uint8

const (
	// ChannelsFirst is the layout `[batch, channels, height, width]`.
	ChannelsFirst ChannelsAxisConfig = iota
	// ChannelsLast is the layout `[batch, height, width, channels]`.
	ChannelsLast
)

// Luma and RGB are the number of channels supported by FromImage.
const (
	Luma = 1
	RGB  = 3
)

// FromImage converts img to a Uint8 tensor shaped `[height, width, channels]`.
//
// With channels == Luma it keeps only the luma (the "Y" of YCbCr), with channels == RGB
// it drops the alpha channel.
func FromImage(img image.Image, channels int) (*tensors.Tensor, error) {
	if channels != Luma && channels != RGB {
		return nil, errors.Errorf("images.FromImage: only 1 (luma) or 3 (RGB) channels supported, got %d", channels)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.Errorf("images.FromImage: empty image (%dx%d)", width, height)
	}
	t := tensors.FromShape(shapes.Make(dtypes.Uint8, height, width, channels))
	tensors.MustMutableFlatData(t, func(flat []uint8) {
		pos := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := img.At(x, y)
				if channels == Luma {
					flat[pos] = color.GrayModel.Convert(c).(color.Gray).Y
					pos++
					continue
				}
				r, g, b, _ := c.RGBA()
				flat[pos] = uint8(r >> 8)
				flat[pos+1] = uint8(g >> 8)
				flat[pos+2] = uint8(b >> 8)
				pos += 3
			}
		}
	})
	return t, nil
}

// ToImage converts a Uint8 tensor shaped `[height, width, channels]` back to an image: *image.Gray
// for 1 channel, *image.NRGBA (opaque) for 3 channels.
func ToImage(t *tensors.Tensor) (image.Image, error) {
	if t.DType() != dtypes.Uint8 || t.Rank() != 3 {
		return nil, errors.Errorf("images.ToImage requires a Uint8 tensor shaped [height, width, channels], got %s", t.Shape())
	}
	height, width, channels := t.Shape().Dim(0), t.Shape().Dim(1), t.Shape().Dim(2)
	var img image.Image
	switch channels {
	case Luma:
		gray := image.NewGray(image.Rect(0, 0, width, height))
		tensors.MustConstFlatData(t, func(flat []uint8) {
			for y := 0; y < height; y++ {
				copy(gray.Pix[y*gray.Stride:y*gray.Stride+width], flat[y*width:(y+1)*width])
			}
		})
		img = gray
	case RGB:
		rgba := image.NewNRGBA(image.Rect(0, 0, width, height))
		tensors.MustConstFlatData(t, func(flat []uint8) {
			pos := 0
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					offset := y*rgba.Stride + x*4
					rgba.Pix[offset] = flat[pos]
					rgba.Pix[offset+1] = flat[pos+1]
					rgba.Pix[offset+2] = flat[pos+2]
					rgba.Pix[offset+3] = 255 // Alpha channel.
					pos += 3
				}
			}
		})
		img = rgba
	default:
		return nil, errors.Errorf("images.ToImage: only 1 or 3 channels supported, got shape %s", t.Shape())
	}
	return img, nil
}

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Batch to convert.
type ToTensorConfig struct {
	dtype        dtypes.DType
	channelsAxis ChannelsAxisConfig
	scale        float64
	mean         []float64
}

// ToTensor returns a configuration to convert a batch of Uint8 images (see FromImage) to a
// tensor of the given dtype.
//
// The defaults are channels-first layout, no mean subtraction and scale 1/255 for float dtypes
// (so values are in [0, 1]) or 1 for integer dtypes.
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	tt := &ToTensorConfig{
		dtype:        dtype,
		channelsAxis: ChannelsFirst,
		scale:        1.0 / 255.0,
	}
	if !isFloat(dtype) {
		tt.scale = 1.0
	}
	return tt
}

func isFloat(dtype dtypes.DType) bool {
	return dtype == dtypes.Float16 || dtype == dtypes.Float32 || dtype == dtypes.Float64
}

// ChannelsAxis configures the layout of the output batch.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) ChannelsAxis(config ChannelsAxisConfig) *ToTensorConfig {
	tt.channelsAxis = config
	return tt
}

// Scale sets the multiplier applied to each value, after the mean is subtracted.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) Scale(scale float64) *ToTensorConfig {
	tt.scale = scale
	return tt
}

// Mean sets the per-channel value subtracted from each pixel, before scaling. Values are in the [0, 255] range.
// If only one value is given it is used for all channels.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) Mean(mean ...float64) *ToTensorConfig {
	tt.mean = mean
	return tt
}

func (tt *ToTensorConfig) meanFor(channel int) float64 {
	switch len(tt.mean) {
	case 0:
		return 0
	case 1:
		return tt.mean[0]
	default:
		return tt.mean[channel]
	}
}

// Batch stacks the given Uint8 images shaped `[height, width, channels]` into a batch of the
// configured dtype and layout. All images must have the same shape.
func (tt *ToTensorConfig) Batch(images []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(images) == 0 {
		return nil, errors.New("images.ToTensorConfig.Batch: no images given")
	}
	imgShape := images[0].Shape()
	if imgShape.DType != dtypes.Uint8 || imgShape.Rank() != 3 {
		return nil, errors.Errorf("images.ToTensorConfig.Batch: images must be Uint8 shaped [height, width, channels], got %s",
			imgShape)
	}
	height, width, channels := imgShape.Dim(0), imgShape.Dim(1), imgShape.Dim(2)
	if len(tt.mean) > 1 && len(tt.mean) != channels {
		return nil, errors.Errorf("images.ToTensorConfig.Batch: %d mean values given for images with %d channels",
			len(tt.mean), channels)
	}
	var batchShape shapes.Shape
	if tt.channelsAxis == ChannelsFirst {
		batchShape = shapes.Make(tt.dtype, len(images), channels, height, width)
	} else {
		batchShape = shapes.Make(tt.dtype, len(images), height, width, channels)
	}
	batch := tensors.FromShape(batchShape)
	set, err := valueSetter(batch)
	if err != nil {
		return nil, err
	}
	imageSize := imgShape.Size()
	for imgIdx, img := range images {
		if !img.Shape().Equal(imgShape) {
			return nil, errors.Errorf("image[%d] has shape %s, but image[0] has shape %s -- they must all be the same",
				imgIdx, img.Shape(), imgShape)
		}
		tensors.MustConstFlatData(img, func(flat []uint8) {
			base := imgIdx * imageSize
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					for c := 0; c < channels; c++ {
						v := (float64(flat[(y*width+x)*channels+c]) - tt.meanFor(c)) * tt.scale
						var pos int
						if tt.channelsAxis == ChannelsFirst {
							pos = base + (c*height+y)*width + x
						} else {
							pos = base + (y*width+x)*channels + c
						}
						set(pos, v)
					}
				}
			}
		})
	}
	return batch, nil
}

// valueSetter returns a function that sets the flat position of t to the given value, converted to t's dtype.
// The returned function must only be used while no other goroutine is using t.
func valueSetter(t *tensors.Tensor) (set func(pos int, v float64), err error) {
	t.MutableFlatData(func(flatAny any) {
		switch flat := flatAny.(type) {
		case []float32:
			set = func(pos int, v float64) { flat[pos] = float32(v) }
		case []float64:
			set = func(pos int, v float64) { flat[pos] = v }
		case []float16.Float16:
			set = func(pos int, v float64) { flat[pos] = float16.Fromfloat32(float32(v)) }
		case []uint8:
			set = func(pos int, v float64) { flat[pos] = uint8(math.Max(0, math.Min(255, math.Round(v)))) }
		case []int32:
			set = func(pos int, v float64) { flat[pos] = int32(math.Round(v)) }
		default:
			err = errors.Errorf("images.ToTensorConfig: dtype %s not supported", t.DType())
		}
	})
	return
}
