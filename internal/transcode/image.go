package transcode

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"

	"resonate/internal/variant"
)

// webp decoding is registered with the image package by nativewebp.
var acceptedImageFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"webp": true,
}

func (t Transcoder) transcodeImage(src []byte, spec variant.Spec) (Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Result{}, newError(UnsupportedFormat, nil, "unrecognized image data")
		}
		return Result{}, newError(DecodeFailure, err, "read image header")
	}
	if !acceptedImageFormats[format] {
		return Result{}, newError(UnsupportedFormat, nil, "image format %q", format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Result{}, newError(DecodeFailure, nil, "invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); t.limits.MaxPixels > 0 && pixels > t.limits.MaxPixels {
		return Result{}, newError(OversizeInput, nil, "source is %dx%d, limit %d pixels", cfg.Width, cfg.Height, t.limits.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Result{}, newError(DecodeFailure, err, "decode %s", format)
	}

	bounds := img.Bounds()
	width, height, limited := fit(bounds.Dx(), bounds.Dy(), spec.TargetWidth, spec.TargetHeight)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	}

	data, err := encode(dst, spec)
	if err != nil {
		return Result{}, err
	}
	return result(data, width, height, spec, limited), nil
}

// fit scales (w, h) to fit inside (maxW, maxH) preserving aspect ratio.
// It never enlarges; limited reports that the source was smaller than the box
// on its constraining edge.
func fit(w, h, maxW, maxH int) (int, int, bool) {
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		return w, h, scale > 1
	}
	fw := int(math.Round(float64(w) * scale))
	fh := int(math.Round(float64(h) * scale))
	return max(1, min(fw, maxW)), max(1, min(fh, maxH)), false
}
