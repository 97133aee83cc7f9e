package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"resonate/internal/config"
	"resonate/internal/variant"
)

// MediaPrefix is the path prefix every variant URL starts with.
const MediaPrefix = "/media/"

var (
	// ErrExpired means a signed URL is past its expiry.
	ErrExpired = errors.New("signed url expired")
	// ErrBadSignature means the signature is missing or does not match.
	ErrBadSignature = errors.New("signed url signature invalid")
)

// Builder produces delivery paths and URLs.
type Builder struct {
	registry *variant.Registry
	baseURL  string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// Option customizes a Builder.
type Option func(*Builder)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns a Builder. An empty secret disables signing.
func New(registry *variant.Registry, baseURL, secret string, ttl time.Duration, opts ...Option) *Builder {
	b := &Builder{
		registry: registry,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		ttl:      ttl,
		now:      time.Now,
	}
	if secret != "" {
		b.secret = []byte(secret)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromConfig builds a Builder from the [delivery] section.
func NewFromConfig(cfg *config.Config, registry *variant.Registry, opts ...Option) *Builder {
	return New(registry, cfg.Delivery.BaseURL, cfg.Delivery.SigningSecret, cfg.URLTTL(), opts...)
}

// Signing reports whether URLs are signed.
func (b *Builder) Signing() bool {
	return len(b.secret) > 0
}

// Path returns /media/{assetId}/{name}.{format}.
func (b *Builder) Path(assetID string, spec variant.Spec) string {
	return MediaPrefix + url.PathEscape(assetID) + "/" + spec.FileName()
}

// URL returns the unsigned absolute (or root-relative) URL for a variant.
func (b *Builder) URL(assetID string, spec variant.Spec) string {
	return b.baseURL + b.Path(assetID, spec)
}

// SignedURL returns URL with exp and sig query parameters when signing is
// enabled, and the plain URL otherwise.
func (b *Builder) SignedURL(assetID string, spec variant.Spec) string {
	return b.baseURL + b.SignedPath(assetID, spec)
}

// SignedPath is SignedURL without the base URL, for requests made straight to
// the daemon's listener.
func (b *Builder) SignedPath(assetID string, spec variant.Spec) string {
	path := b.Path(assetID, spec)
	if !b.Signing() {
		return path
	}
	exp := b.now().Add(b.ttl).Unix()
	values := url.Values{}
	values.Set("exp", strconv.FormatInt(exp, 10))
	values.Set("sig", b.sign(path, exp))
	return path + "?" + values.Encode()
}

// Verify checks the exp and sig query parameters for path. It always
// succeeds when signing is disabled.
func (b *Builder) Verify(path string, query url.Values) error {
	if !b.Signing() {
		return nil
	}
	expRaw := query.Get("exp")
	sig := query.Get("sig")
	if expRaw == "" || sig == "" {
		return ErrBadSignature
	}
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	expected := b.sign(path, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	if b.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

func (b *Builder) sign(path string, exp int64) string {
	mac := hmac.New(sha256.New, b.secret)
	fmt.Fprintf(mac, "%s\n%d", path, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Links returns variant name to URL for every spec of kind.
func (b *Builder) Links(assetID string, kind variant.MediaKind) map[string]string {
	specs := b.registry.Specs(kind)
	links := make(map[string]string, len(specs))
	for _, spec := range specs {
		links[spec.Name] = b.SignedURL(assetID, spec)
	}
	return links
}

// SrcSet renders a responsive srcset attribute for the variants of kind in
// format, ordered by width.
func (b *Builder) SrcSet(assetID string, kind variant.MediaKind, format variant.Format) string {
	specs := b.registry.Specs(kind)
	filtered := specs[:0]
	for _, spec := range specs {
		if spec.Format == format {
			filtered = append(filtered, spec)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TargetWidth < filtered[j].TargetWidth
	})
	parts := make([]string, 0, len(filtered))
	for _, spec := range filtered {
		parts = append(parts, fmt.Sprintf("%s %dw", b.SignedURL(assetID, spec), spec.TargetWidth))
	}
	return strings.Join(parts, ", ")
}

// ParsePath splits a /media/{assetId}/{file} path into its components.
func ParsePath(path string) (assetID, fileName string, err error) {
	rest, ok := strings.CutPrefix(path, MediaPrefix)
	if !ok {
		return "", "", fmt.Errorf("path %q is not a media path", path)
	}
	rawID, file, ok := strings.Cut(rest, "/")
	if !ok || rawID == "" || file == "" || strings.Contains(file, "/") {
		return "", "", fmt.Errorf("path %q is not a media path", path)
	}
	id, err := url.PathUnescape(rawID)
	if err != nil {
		return "", "", fmt.Errorf("path %q: %w", path, err)
	}
	return id, file, nil
}
