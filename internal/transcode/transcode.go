package transcode

import (
	"resonate/internal/variant"
)

// Limits bound the inputs Transcode is willing to decode.
type Limits struct {
	MaxBytes  int64
	MaxPixels int64
}

// Result is one produced variant.
type Result struct {
	Bytes         []byte
	Width         int
	Height        int
	Format        variant.Format
	ByteSize      int
	SourceLimited bool
}

// Transcoder applies Limits to every call. The zero value has no limits.
type Transcoder struct {
	limits Limits
}

// New returns a Transcoder enforcing limits.
func New(limits Limits) Transcoder {
	return Transcoder{limits: limits}
}

// Transcode produces the variant described by spec from src.
func (t Transcoder) Transcode(src []byte, spec variant.Spec) (Result, error) {
	if t.limits.MaxBytes > 0 && int64(len(src)) > t.limits.MaxBytes {
		return Result{}, newError(OversizeInput, nil, "source is %d bytes, limit %d", len(src), t.limits.MaxBytes)
	}
	if len(src) == 0 {
		return Result{}, newError(UnsupportedFormat, nil, "empty source")
	}

	switch spec.Kind {
	case variant.KindTrack:
		return t.transcodeWaveform(src, spec)
	default:
		return t.transcodeImage(src, spec)
	}
}

func result(data []byte, width, height int, spec variant.Spec, limited bool) Result {
	return Result{
		Bytes:         data,
		Width:         width,
		Height:        height,
		Format:        spec.Format,
		ByteSize:      len(data),
		SourceLimited: limited,
	}
}
