package docengine

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/margolab/margo/internal/models"
	"github.com/margolab/margo/internal/render"
)

// CropPNG cuts the fractional rect out of a rendered page raster and
// re-encodes it as PNG. The crop happens on the raster that was on screen, so
// the snippet matches what the user framed regardless of zoom.
func CropPNG(raster *render.Raster, rect models.Rect) ([]byte, error) {
	if raster == nil {
		return nil, fmt.Errorf("no raster to crop")
	}
	if !rect.Valid() {
		return nil, fmt.Errorf("invalid crop rect")
	}
	img, err := png.Decode(bytes.NewReader(raster.Image))
	if err != nil {
		return nil, fmt.Errorf("decode raster: %w", err)
	}

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	crop := image.Rect(
		bounds.Min.X+int(rect.X*w),
		bounds.Min.Y+int(rect.Y*h),
		bounds.Min.X+int((rect.X+rect.W)*w),
		bounds.Min.Y+int((rect.Y+rect.H)*h),
	).Intersect(bounds)
	if crop.Empty() {
		return nil, fmt.Errorf("crop rect is empty")
	}

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("raster image does not support cropping")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(crop)); err != nil {
		return nil, fmt.Errorf("encode snippet: %w", err)
	}
	return buf.Bytes(), nil
}
