package stream

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ScaleFactor returns min(maxW/w, maxH/h, 1.0): the factor that fits a frame
// inside the configured bounds without ever enlarging it.
func ScaleFactor(w, h, maxW, maxH int) float64 {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return 1.0
	}
	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	if scale > 1.0 {
		return 1.0
	}
	return scale
}

// Downscale shrinks img so neither dimension exceeds the bounds, preserving
// aspect ratio. Frames already within bounds are returned unmodified.
func Downscale(img *image.RGBA, maxW, maxH int) *image.RGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	scale := ScaleFactor(w, h, maxW, maxH)
	if scale >= 1.0 {
		return img
	}
	nw := max(2, int(float64(w)*scale))
	nh := max(2, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}
