package transcode

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"resonate/internal/variant"
)

var waveformColor = color.RGBA{R: 0x6c, G: 0x4c, B: 0xf0, A: 0xff}

// pcm is mono amplitude in [0, 1].
type pcm []float64

func (t Transcoder) transcodeWaveform(src []byte, spec variant.Spec) (Result, error) {
	samples, err := decodeAudio(src)
	if err != nil {
		return Result{}, err
	}
	if len(samples) == 0 {
		return Result{}, newError(DecodeFailure, nil, "audio contains no samples")
	}

	img := renderWaveform(columnPeaks(samples, spec.TargetWidth), spec.TargetWidth, spec.TargetHeight)
	data, err := encode(img, spec)
	if err != nil {
		return Result{}, err
	}
	return result(data, spec.TargetWidth, spec.TargetHeight, spec, false), nil
}

func decodeAudio(src []byte) (pcm, error) {
	switch {
	case isWAV(src):
		return decodeWAV(src)
	case isMP3(src):
		return decodeMP3(src)
	default:
		return nil, newError(UnsupportedFormat, nil, "unrecognized audio data")
	}
}

func isWAV(src []byte) bool {
	return len(src) >= 12 && string(src[0:4]) == "RIFF" && string(src[8:12]) == "WAVE"
}

func isMP3(src []byte) bool {
	if len(src) >= 3 && string(src[0:3]) == "ID3" {
		return true
	}
	return len(src) >= 2 && src[0] == 0xFF && src[1]&0xE0 == 0xE0
}

func decodeWAV(src []byte) (pcm, error) {
	dec := wav.NewDecoder(bytes.NewReader(src))
	if !dec.IsValidFile() {
		return nil, newError(DecodeFailure, dec.Err(), "invalid wav header")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, newError(DecodeFailure, err, "read wav samples")
	}
	channels := max(int(dec.NumChans), 1)
	depth := int(dec.BitDepth)
	full := math.Pow(2, float64(depth-1))

	out := make(pcm, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		var peak float64
		for c := 0; c < channels; c++ {
			v := buf.Data[i+c]
			if depth == 8 {
				v -= 128
			}
			peak = math.Max(peak, math.Abs(float64(v))/full)
		}
		out = append(out, math.Min(peak, 1))
	}
	return out, nil
}

func decodeMP3(src []byte) (pcm, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(src))
	if err != nil {
		return nil, newError(DecodeFailure, err, "open mp3 stream")
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, newError(DecodeFailure, err, "read mp3 samples")
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	const frameSize = 4
	out := make(pcm, 0, len(raw)/frameSize)
	for i := 0; i+frameSize <= len(raw); i += frameSize {
		l := int16(binary.LittleEndian.Uint16(raw[i:]))
		r := int16(binary.LittleEndian.Uint16(raw[i+2:]))
		peak := math.Max(math.Abs(float64(l)), math.Abs(float64(r))) / 32768
		out = append(out, math.Min(peak, 1))
	}
	return out, nil
}

// columnPeaks reduces samples to one peak per output column.
func columnPeaks(samples pcm, columns int) []float64 {
	peaks := make([]float64, columns)
	n := len(samples)
	for col := 0; col < columns; col++ {
		start := col * n / columns
		end := (col + 1) * n / columns
		if end <= start {
			end = min(start+1, n)
		}
		for _, s := range samples[start:end] {
			if s > peaks[col] {
				peaks[col] = s
			}
		}
	}
	return peaks
}

// renderWaveform draws one vertically centered bar per column on a
// transparent background.
func renderWaveform(peaks []float64, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x, peak := range peaks {
		bar := max(int(math.Round(peak*float64(height))), 1)
		top := (height - bar) / 2
		for y := top; y < top+bar; y++ {
			img.SetRGBA(x, y, waveformColor)
		}
	}
	return img
}
