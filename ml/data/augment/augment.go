// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment provides image augmenters (data.Augmenter) for the iterators in package data.
//
// Each augmenter takes a Uint8 image tensor shaped `[height, width, channels]`, and returns a new
// one with the same number of channels. They panic (with exceptions.Panicf) if given a tensor that is
// not an image.
package augment

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/gomlx/bmxtools/types/tensors/images"
	"github.com/gomlx/exceptions"
)

// withImage converts img to an image.Image, transforms it with fn and converts it back to a tensor
// with the same number of channels.
func withImage(name string, img *tensors.Tensor, fn func(image.Image) image.Image) *tensors.Tensor {
	goImg, err := images.ToImage(img)
	if err != nil {
		exceptions.Panicf("augment.%s: %+v", name, err)
	}
	channels := img.Shape().Dim(-1)
	out, err := images.FromImage(fn(goImg), channels)
	if err != nil {
		exceptions.Panicf("augment.%s: %+v", name, err)
	}
	return out
}

// CenterCrop cuts out a height x width rectangle from the center of the image.
// If the image is smaller, the result is smaller than requested.
func CenterCrop(height, width int) data.Augmenter {
	return func(img *tensors.Tensor) *tensors.Tensor {
		return withImage("CenterCrop", img, func(goImg image.Image) image.Image {
			return imaging.CropCenter(goImg, width, height)
		})
	}
}

// RandomCrop cuts out a height x width rectangle from a random position of the image.
// If rng is nil, the global math/rand source is used.
func RandomCrop(height, width int, rng *rand.Rand) data.Augmenter {
	return func(img *tensors.Tensor) *tensors.Tensor {
		return withImage("RandomCrop", img, func(goImg image.Image) image.Image {
			bounds := goImg.Bounds()
			x0 := randomOffset(rng, bounds.Dx()-width)
			y0 := randomOffset(rng, bounds.Dy()-height)
			rect := image.Rect(x0, y0, x0+width, y0+height).Add(bounds.Min)
			return imaging.Crop(goImg, rect)
		})
	}
}

// randomOffset returns a value in [0, maxOffset], or 0 if maxOffset <= 0.
func randomOffset(rng *rand.Rand, maxOffset int) int {
	if maxOffset <= 0 {
		return 0
	}
	if rng == nil {
		return rand.Intn(maxOffset + 1)
	}
	return rng.Intn(maxOffset + 1)
}

// Resize scales the image to height x width, using bicubic interpolation (Catmull-Rom).
func Resize(height, width int) data.Augmenter {
	return func(img *tensors.Tensor) *tensors.Tensor {
		return withImage("Resize", img, func(goImg image.Image) image.Image {
			return imaging.Resize(goImg, width, height, imaging.CatmullRom)
		})
	}
}

// Downscale divides the height and width of the image by factor, using bicubic interpolation.
// It's the usual transformation of the input of super-resolution models.
func Downscale(factor int) data.Augmenter {
	if factor <= 0 {
		exceptions.Panicf("augment.Downscale: factor must be > 0, got %d", factor)
	}
	return func(img *tensors.Tensor) *tensors.Tensor {
		return withImage("Downscale", img, func(goImg image.Image) image.Image {
			bounds := goImg.Bounds()
			return imaging.Resize(goImg, max(bounds.Dx()/factor, 1), max(bounds.Dy()/factor, 1), imaging.CatmullRom)
		})
	}
}

// FlipHorizontal mirrors the image left to right with the given probability.
// If rng is nil, the global math/rand source is used.
func FlipHorizontal(probability float64, rng *rand.Rand) data.Augmenter {
	return func(img *tensors.Tensor) *tensors.Tensor {
		var draw float64
		if rng == nil {
			draw = rand.Float64()
		} else {
			draw = rng.Float64()
		}
		if draw >= probability {
			return img
		}
		return withImage("FlipHorizontal", img, func(goImg image.Image) image.Image {
			return imaging.FlipH(goImg)
		})
	}
}
