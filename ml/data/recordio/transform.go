// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// transform applies the configured resizing, augmentation and cropping to one decoded image,
// returning an image of exactly cfg.width x cfg.height.
//
// rng must not be shared with other goroutines.
func (cfg *iterConfig) transform(img image.Image, rng *rand.Rand) image.Image {
	if cfg.resize > 0 {
		img = resizeShorterEdge(img, cfg.resize)
	}
	if cfg.hasGeometric() {
		img = cfg.geometric(img, rng)
	}
	img = cfg.crop(img, rng)
	if cfg.randMirror && rng.Intn(2) == 0 {
		img = imaging.FlipH(img)
	}
	if cfg.hasColorJitter() {
		img = cfg.colorJitter(img, rng)
	}
	return img
}

// resizeShorterEdge resizes img so its shorter edge has the given size, preserving the aspect ratio.
func resizeShorterEdge(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= bounds.Dy() {
		return imaging.Resize(img, size, 0, imaging.CatmullRom)
	}
	return imaging.Resize(img, 0, size, imaging.CatmullRom)
}

// uniform returns a random value in [-limit, limit].
func uniform(rng *rand.Rand, limit float64) float64 {
	return (2*rng.Float64() - 1) * limit
}

// geometric applies a random aspect ratio change, shear and rotation.
func (cfg *iterConfig) geometric(img image.Image, rng *rand.Rand) image.Image {
	if cfg.maxAspectRatio > 0 {
		ratio := 1 + uniform(rng, cfg.maxAspectRatio)
		bounds := img.Bounds()
		img = imaging.Resize(img, max(int(math.Round(float64(bounds.Dx())*ratio)), 1), bounds.Dy(), imaging.Linear)
	}
	if cfg.maxShearRatio > 0 {
		img = shearHorizontal(img, uniform(rng, cfg.maxShearRatio))
	}
	if cfg.maxRotateAngle > 0 {
		img = imaging.Rotate(img, uniform(rng, cfg.maxRotateAngle), color.Black)
	}
	return img
}

// shearHorizontal shifts each row of the image horizontally by ratio times its distance to the
// vertical center, using nearest neighbor sampling. Pixels shifted in from outside the image are black.
func shearHorizontal(img image.Image, ratio float64) image.Image {
	src := imaging.Clone(img)
	width, height := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	centerY := float64(height-1) / 2
	for y := range height {
		shift := int(math.Round(ratio * (float64(y) - centerY)))
		for x := range width {
			srcX := x - shift
			if srcX < 0 || srcX >= width {
				offset := y*dst.Stride + x*4
				dst.Pix[offset+3] = 255
				continue
			}
			srcOffset := y*src.Stride + srcX*4
			dstOffset := y*dst.Stride + x*4
			copy(dst.Pix[dstOffset:dstOffset+4], src.Pix[srcOffset:srcOffset+4])
		}
	}
	return dst
}

// crop cuts out cfg.width x cfg.height from img: at a random position if cfg.randCrop, or from the center.
// Images smaller than the target in any dimension are first scaled up to cover it.
func (cfg *iterConfig) crop(img image.Image, rng *rand.Rand) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() < cfg.width || bounds.Dy() < cfg.height {
		return imaging.Fill(img, cfg.width, cfg.height, imaging.Center, imaging.CatmullRom)
	}
	if !cfg.randCrop {
		return imaging.CropCenter(img, cfg.width, cfg.height)
	}
	x0 := rng.Intn(bounds.Dx() - cfg.width + 1)
	y0 := rng.Intn(bounds.Dy() - cfg.height + 1)
	return imaging.Crop(img, image.Rect(x0, y0, x0+cfg.width, y0+cfg.height).Add(bounds.Min))
}

// colorJitter shifts the hue, saturation and lightness of the image by random amounts.
// randomH is in degrees, randomS and randomL in the [0, 255] scale.
func (cfg *iterConfig) colorJitter(img image.Image, rng *rand.Rand) image.Image {
	deltaH := uniform(rng, cfg.randomH)
	deltaS := uniform(rng, cfg.randomS) / 255
	deltaL := uniform(rng, cfg.randomL) / 255
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		col := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
		h, s, l := col.Hsl()
		h = math.Mod(h+deltaH+360, 360)
		s = min(max(s+deltaS, 0), 1)
		l = min(max(l+deltaL, 0), 1)
		r, g, b := colorful.Hsl(h, s, l).Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})
}
