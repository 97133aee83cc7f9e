// Package api exposes the pipeline over HTTP.
//
// The router is built with chi. Routes under /api accept and return JSON and
// require a bearer token when one is configured. /media serves variant bytes
// for ready, published, and archived assets, checking the URL signature when
// delivery signing is enabled.
//
// Handlers translate pipeline errors into status codes: unknown assets map to
// 404, rejected lifecycle transitions to 409, and validation failures to 400.
package api
