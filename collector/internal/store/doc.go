// Package store is the dev collector's in-memory data store.
//
// Store keeps game versions, players, events and snapshots. Players get a
// random UUID on creation and live until the process exits. Events and
// snapshots are evicted by a background loop (Run) once they are older than
// the configured TTL; a zero TTL keeps them forever.
//
// Validation mirrors what the hosted service enforces on writes: every record
// must name a known game version and an existing player.
package store
