package variant_test

import (
	"strings"
	"testing"

	"resonate/internal/config"
	"resonate/internal/variant"
)

func TestManifestKeyScheme(t *testing.T) {
	thumb := variant.Spec{Name: "thumb512", Kind: variant.KindCover, TargetWidth: 512, TargetHeight: 512, Format: variant.FormatWebP}
	hero := variant.Spec{Name: "hero1024", Kind: variant.KindCover, TargetWidth: 1024, TargetHeight: 1024, Format: variant.FormatJPEG}

	if got := variant.ManifestKey("A", thumb); got != "A/thumb512.webp" {
		t.Fatalf("unexpected thumb key %q", got)
	}
	if got := variant.ManifestKey("A", hero); got != "A/hero1024.jpeg" {
		t.Fatalf("unexpected hero key %q", got)
	}
	if got := variant.SourceKey("A"); got != "A/source" {
		t.Fatalf("unexpected source key %q", got)
	}
}

func TestDefaultRegistryIsOrderedPerKind(t *testing.T) {
	reg, err := variant.FromConfig(nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	covers := reg.Specs(variant.KindCover)
	if len(covers) != 4 || covers[0].Name != "thumb256" || covers[3].Name != "full2048" {
		t.Fatalf("unexpected cover specs: %+v", covers)
	}
	tracks := reg.Specs(variant.KindTrack)
	if len(tracks) != 2 || tracks[0].Name != "waveform1200" {
		t.Fatalf("unexpected track specs: %+v", tracks)
	}

	covers[0].Name = "mutated"
	if again := reg.Specs(variant.KindCover); again[0].Name != "thumb256" {
		t.Fatal("Specs must return a copy")
	}
}

func TestFromConfigOverridesDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Variants = []config.Variant{
		{Name: "thumb512", Kind: "cover", Width: 512, Height: 512, Format: "webp", Quality: 80},
		{Name: "hero1024", Kind: "cover", Width: 1024, Height: 1024, Format: "jpg", Quality: 85},
	}
	reg, err := variant.FromConfig(&cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	keys := reg.Keys("A", variant.KindCover)
	if len(keys) != 2 || keys[0] != "A/thumb512.webp" || keys[1] != "A/hero1024.jpeg" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if len(reg.Specs(variant.KindTrack)) != 0 {
		t.Fatal("override should replace the whole table")
	}
	spec, ok := reg.LookupFile("hero1024.jpeg")
	if !ok || spec.TargetWidth != 1024 {
		t.Fatalf("LookupFile failed: %+v %v", spec, ok)
	}
}

func TestNewRegistryRejectsInvalidSpecs(t *testing.T) {
	cases := []variant.Spec{
		{Name: "", Kind: variant.KindCover, TargetWidth: 1, TargetHeight: 1, Format: variant.FormatPNG},
		{Name: "a/b", Kind: variant.KindCover, TargetWidth: 1, TargetHeight: 1, Format: variant.FormatPNG},
		{Name: "x", Kind: variant.KindCover, TargetWidth: 0, TargetHeight: 1, Format: variant.FormatPNG},
		{Name: "x", Kind: variant.KindCover, TargetWidth: 1, TargetHeight: 1, Format: "gif"},
		{Name: "x", Kind: "video", TargetWidth: 1, TargetHeight: 1, Format: variant.FormatPNG},
		{Name: "x", Kind: variant.KindCover, TargetWidth: 1, TargetHeight: 1, Format: variant.FormatPNG, Quality: 200},
	}
	for _, spec := range cases {
		if _, err := variant.NewRegistry([]variant.Spec{spec}); err == nil {
			t.Fatalf("expected error for %+v", spec)
		}
	}
	dup := variant.Spec{Name: "x", Kind: variant.KindCover, TargetWidth: 1, TargetHeight: 1, Format: variant.FormatPNG}
	if _, err := variant.NewRegistry([]variant.Spec{dup, dup}); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestNewRegistryRejectsFileNameSharedAcrossKinds(t *testing.T) {
	cover := variant.Spec{Name: "preview", Kind: variant.KindCover, TargetWidth: 256, TargetHeight: 256, Format: variant.FormatPNG}
	track := variant.Spec{Name: "preview", Kind: variant.KindTrack, TargetWidth: 600, TargetHeight: 120, Format: variant.FormatPNG}
	_, err := variant.NewRegistry([]variant.Spec{cover, track})
	if err == nil || !strings.Contains(err.Error(), "preview.png") {
		t.Fatalf("expected shared file name error, got %v", err)
	}

	// Same name with a different format is a distinct file.
	track.Format = variant.FormatWebP
	reg, err := variant.NewRegistry([]variant.Spec{cover, track})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	spec, ok := reg.LookupFile("preview.webp")
	if !ok || spec.Kind != variant.KindTrack {
		t.Fatalf("expected track spec for preview.webp, got %+v ok=%v", spec, ok)
	}
}

func TestManifestCovers(t *testing.T) {
	reg, err := variant.NewRegistry([]variant.Spec{
		{Name: "thumb512", Kind: variant.KindCover, TargetWidth: 512, TargetHeight: 512, Format: variant.FormatWebP},
		{Name: "hero1024", Kind: variant.KindCover, TargetWidth: 1024, TargetHeight: 1024, Format: variant.FormatJPEG},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	specs := reg.Specs(variant.KindCover)
	full := variant.Manifest{
		{Name: "thumb512", Key: "A/thumb512.webp"},
		{Name: "hero1024", Key: "A/hero1024.jpeg"},
	}
	if !full.Covers("A", specs) {
		t.Fatal("expected full manifest to cover registry")
	}
	if full[:1].Covers("A", specs) {
		t.Fatal("partial manifest must not cover registry")
	}
	if full.Covers("B", specs) {
		t.Fatal("manifest keyed for A must not cover B")
	}
}
