// Package pipeline drives processing jobs from the queue to a ready or
// error asset.
//
// Manager runs a fixed pool of workers, each looping lease, process, ack
// against the shared queue, plus a reclaimer that returns abandoned leases
// to the queue. A worker moves the asset into processing through the
// lifecycle machine, fetches the source, transcodes every registered
// variant concurrently, and writes each result to the blob store. The ack
// is recorded before the closing lifecycle transition so a superseded job
// can never overwrite the asset its successor owns.
//
// Service is the facade the HTTP API and CLI call: create assets, request
// processing, read the status projection, and apply operator events.
package pipeline
