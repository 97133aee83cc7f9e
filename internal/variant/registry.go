package variant

import (
	"fmt"

	"resonate/internal/config"
)

// Registry is an immutable, ordered set of variant specs per media kind.
type Registry struct {
	byKind map[MediaKind][]Spec
}

// DefaultSpecs returns the built-in variant table.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "thumb256", Kind: KindCover, TargetWidth: 256, TargetHeight: 256, Format: FormatWebP, Quality: 80},
		{Name: "thumb512", Kind: KindCover, TargetWidth: 512, TargetHeight: 512, Format: FormatWebP, Quality: 80},
		{Name: "hero1024", Kind: KindCover, TargetWidth: 1024, TargetHeight: 1024, Format: FormatJPEG, Quality: 85},
		{Name: "full2048", Kind: KindCover, TargetWidth: 2048, TargetHeight: 2048, Format: FormatJPEG, Quality: 90},
		{Name: "waveform1200", Kind: KindTrack, TargetWidth: 1200, TargetHeight: 200, Format: FormatPNG, Quality: 100},
		{Name: "waveform600", Kind: KindTrack, TargetWidth: 600, TargetHeight: 120, Format: FormatWebP, Quality: 80},
	}
}

// NewRegistry validates specs and freezes them in the given order.
func NewRegistry(specs []Spec) (*Registry, error) {
	r := &Registry{byKind: make(map[MediaKind][]Spec)}
	seen := make(map[string]struct{}, len(specs))
	files := make(map[string]MediaKind, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		key := string(spec.Kind) + "/" + spec.Name
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("variant %q: duplicate name for kind %q", spec.Name, spec.Kind)
		}
		seen[key] = struct{}{}
		// LookupFile resolves media paths by file name alone.
		if other, ok := files[spec.FileName()]; ok {
			return nil, fmt.Errorf("variant %q: file name %q already used by kind %q", spec.Name, spec.FileName(), other)
		}
		files[spec.FileName()] = spec.Kind
		r.byKind[spec.Kind] = append(r.byKind[spec.Kind], spec)
	}
	return r, nil
}

// FromConfig builds the registry from [[variants]] when present, otherwise
// from the built-in defaults.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil || len(cfg.Variants) == 0 {
		return NewRegistry(DefaultSpecs())
	}
	specs := make([]Spec, 0, len(cfg.Variants))
	for _, v := range cfg.Variants {
		format, ok := ParseFormat(v.Format)
		if !ok {
			return nil, fmt.Errorf("variant %q: unsupported format %q", v.Name, v.Format)
		}
		kind, ok := ParseKind(v.Kind)
		if !ok {
			return nil, fmt.Errorf("variant %q: unsupported kind %q", v.Name, v.Kind)
		}
		specs = append(specs, Spec{
			Name:         v.Name,
			Kind:         kind,
			TargetWidth:  v.Width,
			TargetHeight: v.Height,
			Format:       format,
			Quality:      v.Quality,
		})
	}
	return NewRegistry(specs)
}

// Specs returns a copy of the ordered specs for kind.
func (r *Registry) Specs(kind MediaKind) []Spec {
	if r == nil {
		return nil
	}
	src := r.byKind[kind]
	out := make([]Spec, len(src))
	copy(out, src)
	return out
}

// Lookup finds a spec by kind and name.
func (r *Registry) Lookup(kind MediaKind, name string) (Spec, bool) {
	if r == nil {
		return Spec{}, false
	}
	for _, spec := range r.byKind[kind] {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// LookupFile finds a spec by its "{name}.{format}" file name across all kinds.
func (r *Registry) LookupFile(fileName string) (Spec, bool) {
	if r == nil {
		return Spec{}, false
	}
	for _, kind := range []MediaKind{KindCover, KindTrack} {
		for _, spec := range r.byKind[kind] {
			if spec.FileName() == fileName {
				return spec, true
			}
		}
	}
	return Spec{}, false
}

// Keys returns the manifest keys an asset of kind will have once ready.
func (r *Registry) Keys(assetID string, kind MediaKind) []string {
	specs := r.Specs(kind)
	keys := make([]string, 0, len(specs))
	for _, spec := range specs {
		keys = append(keys, ManifestKey(assetID, spec))
	}
	return keys
}
