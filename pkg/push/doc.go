/*
Package push implements the push-notification manager: a persistent
task_id -> WebhookConfig registry with a global fallback, a monotonic
per-task event sequence number, and at-least-once HTTP delivery.

Manager holds the in-memory registry and sequence counters; HTTPDeliverer
does the actual POST, retrying 5xx/network failures with exponential
backoff and tripping a per-URL circuit breaker after repeated failures so
one dead webhook does not starve delivery attempts for every other task.
Manager.Initialize must run once, after construction, to hydrate the
registry from Storage before any NotifyStatus/NotifyArtifact call.
*/
package push
