// Package variant defines the derived artifacts produced for each uploaded
// asset and the stable key scheme under which they are stored.
//
// A Registry is built once at startup, either from the built-in defaults or
// from the [[variants]] section of the configuration, and is read-only
// afterwards. Keys are derived purely from the asset id and the spec so that
// delivery layers can construct URLs without querying the pipeline.
package variant
