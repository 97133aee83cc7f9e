package variant

// Entry describes one persisted variant of an asset.
type Entry struct {
	Name          string `json:"name"`
	Format        Format `json:"format"`
	Key           string `json:"key"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ByteSize      int    `json:"byte_size"`
	SourceLimited bool   `json:"source_limited,omitempty"`
}

// Manifest is the ordered variant set of a ready asset.
type Manifest []Entry

// Keys returns the blob keys of every entry.
func (m Manifest) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

// Covers reports whether m holds exactly one entry per spec, in order, at
// the keys derived from assetID.
func (m Manifest) Covers(assetID string, specs []Spec) bool {
	if len(m) != len(specs) {
		return false
	}
	for i, spec := range specs {
		if m[i].Name != spec.Name || m[i].Key != ManifestKey(assetID, spec) {
			return false
		}
	}
	return true
}
