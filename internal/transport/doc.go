// Package transport issues JSON requests against a collector over HTTP.
//
// HTTP.Do marshals the request body as JSON, sends it with the configured
// authentication (API key header, bearer token, basic auth or mTLS), and
// decodes a 2xx response body into the caller's value. Non-2xx responses are
// reported as *StatusError so callers can inspect the code.
//
// Authentication is applied by the authRoundTripper; credentials are
// resolved from environment variables at request time.
package transport
