/*
Package scheduler provides the producer/consumer queue that separates task
submission from task execution.

Four producer calls — RunTask, CancelTask, PauseTask, ResumeTask — each
enqueue a TaskOperation and return once the transport has durably accepted
it. One consumer call, Operations, yields a channel of TaskOperation values;
competing workers each hold their own Operations channel and the transport
delivers each operation to exactly one of them.

MemoryScheduler and RedisScheduler implement the same Scheduler interface.
Pick MemoryScheduler for a single process or a test; pick RedisScheduler when
multiple worker processes need to share one queue. Producer-side transport
errors on the Redis backend are retried with exponential backoff before
surfacing to the caller; consumer-side errors and malformed envelopes are
logged and skipped rather than halting the read loop.
*/
package scheduler
