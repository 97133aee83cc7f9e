package transcode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"resonate/internal/variant"
)

func encode(img *image.RGBA, spec variant.Spec) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch spec.Format {
	case variant.FormatJPEG:
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: jpegQuality(spec.Quality)})
	case variant.FormatPNG:
		enc := png.Encoder{CompressionLevel: pngCompression(spec.Quality)}
		err = enc.Encode(&buf, img)
	case variant.FormatWebP:
		// VP8L is lossless; the quality hint has no effect.
		err = nativewebp.Encode(&buf, img, nil)
	default:
		return nil, newError(UnsupportedFormat, nil, "output format %q", spec.Format)
	}
	if err != nil {
		return nil, newError(DecodeFailure, err, "encode %s", spec.Format)
	}
	return buf.Bytes(), nil
}

// flatten composites img over white since JPEG has no alpha channel.
func flatten(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}

func jpegQuality(hint int) int {
	return min(max(hint, 1), 100)
}

func pngCompression(hint int) png.CompressionLevel {
	switch {
	case hint >= 90:
		return png.BestCompression
	case hint >= 50:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}
