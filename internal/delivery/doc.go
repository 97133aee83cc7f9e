// Package delivery builds canonical media URLs for asset variants.
//
// Paths are derived purely from the asset id and the variant registry, so
// callers never need to query the pipeline to render an image tag. When a
// signing secret is configured, URLs carry an expiry and an HMAC-SHA256
// signature that the media handler verifies before serving bytes.
package delivery
