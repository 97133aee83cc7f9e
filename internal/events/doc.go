// Package events turns committed asset lifecycle transitions into outbound
// notifications.
//
// A Publisher receives one Event per transition. Implementations write to
// the structured log, append to a Redis stream for downstream consumers, or
// post operator alerts to an ntfy topic. Multi fans out to several
// publishers. Publishing never blocks or fails the job that caused the
// transition; Observer logs delivery errors and moves on.
package events
