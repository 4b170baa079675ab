// Package bridge exposes a Connection through JSON-string commands, for hosts
// (game engines, scripting runtimes) that can only exchange text with the
// agent.
//
// Each operation takes one JSON document:
//
//	connect       connection options: gameVersionId, baseUrl or
//	              protocol/host/port, bufferingDelay (milliseconds), player
//	disconnect    no argument
//	postEvent     an event object
//	postSnapshot  a snapshot object
//	updatePlayer  a player object
//
// Serve reads newline-delimited commands of the form
//
//	{"cmd": "postEvent", "args": {"type": "start", "section": [1, 2]}}
//
// and writes one Reply line per command. Posts reply as soon as the record is
// queued; the delivery outcome is logged when the batch settles.
package bridge
