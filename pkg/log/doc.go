/*
Package log provides structured logging built on zerolog.

A single global Logger is configured once via Init and then narrowed per
component with WithComponent, WithTaskID, or WithContextID. Component
loggers are cheap zerolog child loggers; create them once per long-lived
component (scheduler, push manager, worker) rather than per call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("queue", "bindu:tasks").Msg("consumer started")
*/
package log
