package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Gradient returns a deterministic RGBA image of the given size.
func Gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(width-1, 1)),
				G: uint8(y * 255 / max(height-1, 1)),
				B: uint8((x + y) % 256),
				A: 0xff,
			})
		}
	}
	return img
}

// PNG encodes a gradient of the given size.
func PNG(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Gradient(width, height)); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes a gradient of the given size.
func JPEG(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(width, height), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

// GIF encodes a gradient in a format the pipeline does not accept.
func GIF(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, Gradient(width, height), nil); err != nil {
		t.Fatalf("encode gif fixture: %v", err)
	}
	return buf.Bytes()
}

// WAV renders a mono 16-bit sine-like ramp of n samples at 8 kHz.
func WAV(t testing.TB, samples int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav fixture: %v", err)
	}

	data := make([]int, samples)
	for i := range data {
		// triangle wave between -20000 and 20000
		phase := i % 200
		if phase < 100 {
			data[i] = -20000 + phase*400
		} else {
			data[i] = 20000 - (phase-100)*400
		}
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav fixture: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav fixture: %v", err)
	}
	return content
}

// mp3Header is MPEG-1 Layer III, no CRC, 128 kbit/s, 48 kHz, stereo.
var mp3Header = [4]byte{0xFF, 0xFB, 0x94, 0x00}

// mp3FrameSize is 144 * bitrate / sample rate for the header above.
const mp3FrameSize = 144 * 128000 / 48000

// MP3 returns n silent MPEG-1 Layer III frames. Zeroed side info and main
// data describe granules with no coded samples, which decode to silence.
func MP3(n int) []byte {
	out := make([]byte, 0, n*mp3FrameSize)
	for range n {
		frame := make([]byte, mp3FrameSize)
		copy(frame, mp3Header[:])
		out = append(out, frame...)
	}
	return out
}

// WriteFile stores content at path, creating parent directories.
func WriteFile(t testing.TB, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
