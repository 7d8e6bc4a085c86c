/*
Package httpapi is the runtime's plain-HTTP operational surface:
/healthz (liveness), /readyz (readiness, pinging the configured Scheduler
and Store), and /metrics (Prometheus). It carries no task or webhook
business logic — the JSON-RPC task surface spec.md scopes out stays out
of this package too.
*/
package httpapi
