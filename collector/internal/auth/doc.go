// Package auth provides API key authentication middleware for the dev
// collector's HTTP routes.
//
// APIKey(mode, header, key) wraps an http.Handler:
//   - mode != "apikey" or an empty key: all requests pass through.
//   - otherwise the request header must equal key; a missing or wrong key
//     gets 401 with a JSON error body.
package auth
