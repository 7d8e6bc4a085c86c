/*
Package storage is the durable home of tasks, messages, artifacts, and
webhook configs.

MemoryStore holds everything in four in-process maps behind one mutex; it is
non-durable and exists for tests and single-process demos. PostgresStore is
the relational backend: one table per entity, migrated with goose from the
SQL files embedded in migrations/, with state transitions guarded by an
optimistic version check (UpdateTaskState) rather than row locking, since
workers may be on different processes.

Both implementations satisfy the same Store interface, so a worker or push
manager built against Store works unmodified against either backend.
*/
package storage
