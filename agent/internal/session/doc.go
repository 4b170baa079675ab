// Package session keeps the agent's redmetrics.Connection alive.
//
// Session owns one Connection at a time. Run(ctx) connects it with truncated
// exponential backoff (1s→60s, ±25% jitter) when the handshake fails for a
// transient reason (status, game version or player creation). Configuration
// errors are not retried.
//
// Reload(cfg) hands over a new connection section from the config watcher.
// When it differs from the active one, Run builds a fresh Connection (with a
// fresh transport), disconnects the old one (one final flush) and swaps the
// new one in. A rebuild failure keeps the previous Connection running.
//
// Session also implements the bridge.Client surface by delegating to the
// current Connection, and reports Status for the status API and stream.
package session
