// Package alerts evaluates threshold rules against the agent session status
// and notifies webhooks when a rule fires or resolves.
package alerts
