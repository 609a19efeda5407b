// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Client session count and live subscriptions per channel kind
//   - Deliveries and superseded (dropped) states per channel kind
//   - Upstream command outcomes and latency
//   - Upstream feed reconnects and REST request outcomes
//
// Every method is safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics
