// Package config loads the dev collector configuration (collector.yaml).
//
// Only the `collector:` section is read. Defaults: http_port 8080, auth mode
// none, record ttl 1h, every game version accepted. REDMETRICS_COLLECTOR_*
// environment variables override file values.
package config
