// Package compute derives delivery health from successive session status
// samples.
//
// score.go provides the pure Compute(Input) function that calculates the
// composite strength score (0-100):
// discards(30%) + flush latency(20%) + flush success(20%) + connected uptime(30%).
//
// engine.go provides the stateful Engine that keeps the previous counter
// sample and derives per-minute rates from the deltas. Engine.Process takes
// the sample time explicitly so tests are deterministic.
//
// Health state thresholds: Healthy >=85, Degraded 60-84, Critical <60,
// Unknown until a second sample of the same connection arrives.
package compute
