// Package security inspects the collector's TLS certificate. The session runs
// Check after every successful handshake and the status API reports the
// result with an expiry diagnostic.
package security
