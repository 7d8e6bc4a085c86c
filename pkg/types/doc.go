/*
Package types defines the core data model shared by the scheduler, storage,
push-notification, and worker packages: Task, Message, Artifact, Part,
WebhookConfig, TaskSendParams, and PushEvent. The TaskOperation sum type
that flows through the Scheduler lives in pkg/scheduler.

Task state transitions form a DAG with three terminal states — completed,
failed, canceled — enforced by pkg/worker, not by this package; types here
are plain data plus the TaskState.IsTerminal helper.
*/
package types
