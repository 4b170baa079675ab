// Package api implements the dev collector's HTTP endpoints, the write half
// of the RedMetrics API:
//
//	GET  /status                  liveness, never authenticated
//	GET  /v1/gameVersion/{id}     200 {"id"} when known, 404 otherwise
//	POST /v1/player/              create a player, 200 with its "id"
//	GET  /v1/player/{id}          read a player back
//	PUT  /v1/player/{id}          replace a player's attributes
//	POST /v1/event/               append a batch, 200 with the stored array
//	POST /v1/snapshot/            append a batch, 200 with the stored array
//
// /v1/ routes sit behind the API key middleware from package auth. Bodies
// must be JSON; batches must be arrays of objects. Errors are JSON
// {"error": "..."} with 400, 401, 404 or 405.
package api
