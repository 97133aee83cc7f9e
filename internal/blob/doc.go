// Package blob persists source and variant bytes under opaque string keys.
//
// Store is the narrow get/put contract the pipeline depends on. Two durable
// backends are provided: FileStore keeps one file per key under a root
// directory and PebbleStore keeps keys in an embedded Pebble database.
// MemoryStore is for tests and tooling. All backends are read-after-write
// consistent.
package blob
