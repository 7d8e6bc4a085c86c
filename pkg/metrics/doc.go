// Package metrics registers the Prometheus collectors exported by the
// scheduler, worker, push manager, and storage packages, and serves them
// at /metrics via Handler.
package metrics
