package pdf

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Flatten composites src over an opaque white background. Transparent
// regions become white and the result has alpha 255 everywhere.
func Flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
