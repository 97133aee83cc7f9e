// Package lifecycle owns an asset's publication status.
//
// Next is the pure transition table. Machine applies transitions through a
// Repository with compare-and-set semantics and serializes all transitions
// for one asset behind a per-asset mutex, so a reclaimed duplicate run and a
// fresh run can never race on the same status. Every status write in the
// system goes through a Machine.
package lifecycle
