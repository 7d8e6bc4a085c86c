/*
Package health provides composable readiness checks for the runtime's
dependencies (Redis, Postgres, a configured webhook endpoint).

A Checker performs one check and returns a Result; Status accumulates
consecutive successes/failures against a Config so a single flaky check
doesn't flip overall readiness. The runtime's /healthz and /readyz
handlers (pkg/httpapi) do not run Checkers: /healthz reports liveness only,
and /readyz pings the Scheduler and Store directly on each request.
taskrund uses an HTTPChecker once at startup to probe the configured
webhook endpoint.
*/
package health
