// Package types defines the JSON shapes exchanged between the redmetrics
// client and a collector. Both the client library and the dev collector use
// them so the field names stay in one place.
package types
