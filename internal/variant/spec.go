package variant

import (
	"fmt"
	"strings"
)

// MediaKind identifies what an asset's source bytes contain.
type MediaKind string

const (
	// KindCover is raster cover art.
	KindCover MediaKind = "cover"
	// KindTrack is an audio track; its variants are waveform renders.
	KindTrack MediaKind = "track"
)

// ParseKind converts a string to a MediaKind.
func ParseKind(value string) (MediaKind, bool) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(value))) {
	case KindCover:
		return KindCover, true
	case KindTrack:
		return KindTrack, true
	default:
		return "", false
	}
}

// Format is one of the closed set of output encodings.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat converts a string to a Format, accepting "jpg" as jpeg.
func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "webp":
		return FormatWebP, true
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatWebP:
		return "image/webp"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Spec describes one target variant. Width and Height bound the output box;
// images are scaled to fit inside it without cropping or letterboxing.
type Spec struct {
	Name         string
	Kind         MediaKind
	TargetWidth  int
	TargetHeight int
	Format       Format
	Quality      int
}

// Validate reports whether the spec can be produced.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("variant name must be set")
	}
	if strings.ContainsAny(s.Name, "/\\.") {
		return fmt.Errorf("variant %q: name must not contain path separators or dots", s.Name)
	}
	if _, ok := ParseKind(string(s.Kind)); !ok {
		return fmt.Errorf("variant %q: unsupported kind %q", s.Name, s.Kind)
	}
	if _, ok := ParseFormat(string(s.Format)); !ok {
		return fmt.Errorf("variant %q: unsupported format %q", s.Name, s.Format)
	}
	if s.TargetWidth <= 0 || s.TargetHeight <= 0 {
		return fmt.Errorf("variant %q: target dimensions must be positive", s.Name)
	}
	if s.Quality < 0 || s.Quality > 100 {
		return fmt.Errorf("variant %q: quality must be between 0 and 100", s.Name)
	}
	return nil
}

// FileName returns "{name}.{format}".
func (s Spec) FileName() string {
	return s.Name + "." + string(s.Format)
}

// ManifestKey returns the blob key for a variant: "{assetId}/{name}.{format}".
func ManifestKey(assetID string, spec Spec) string {
	return assetID + "/" + spec.FileName()
}

// SourceKey returns the blob key for an asset's uploaded source bytes.
func SourceKey(assetID string) string {
	return assetID + "/source"
}
