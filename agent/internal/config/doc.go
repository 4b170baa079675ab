// Package config loads and watches the agent configuration file (agent.yaml).
//
// Top-level types:
//   - Config{Connection, Agent, Log, Alerts}: full config tree parsed from YAML
//   - ConnectionConfig: the redmetrics.Config fields (base_url or
//     protocol/host/port, game_version_id, buffering_delay, player) plus
//     auth, tls and per-request timeout for the HTTP transport
//   - AuthConfig: mode (apikey|bearer|basic|mtls|none), header, key_env,
//     token_env, username, password_env, cert/key/ca files
//   - AgentConfig: listen_addr of the local status API, stream_interval,
//     auto_connect
//   - LogConfig: level and format (json|console)
//   - AlertsConfig: threshold rules on the session status and the webhooks
//     (slack|teams|http) notified when they fire or resolve
//
// Load(path) reads the YAML file, applies defaults (https, port 443, 5s
// buffering delay, 10s timeout, json logs), overlays REDMETRICS_* environment
// variables, then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory so that
// rename-based atomic saves (vim, VS Code) are picked up, and calls onChange
// with each successfully reloaded Config.
package config
