// Package ws implements the agent's live delivery stream.
//
// Hub manages a set of connected WebSocket clients. Run(ctx) broadcasts the
// session status every interval; Publish(report) pushes each flush outcome as
// it happens (wire it to session.WithFlushHook). ServeHTTP upgrades a request,
// sends the current status immediately, then streams both kinds of message.
//
// Message format:
//
//	{"event": "status", "data": { /* GET /api/v1/status */ }}
//	{"event": "flush",  "data": { "at": ..., "events": 3, "snapshots": 0, "error": "" }}
//
// A client whose outgoing buffer is full is dropped. The agent mounts the hub
// at /ws/stream.
package ws
