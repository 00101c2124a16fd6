/*
Package log provides structured logging for the conserver pipeline using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component Loggers:

	workerLog := log.WithComponent("worker")
	workerLog.Info().Str("queue", "q1").Msg("popped item")

	chainLog := log.WithChain("demo").With().Str("vcon_uuid", uuid).Logger()
	chainLog.Error().Err(err).Msg("stage failed")

Per-item fields (vcon_uuid, queue) are attached inline at the call
site, as in the chain logger above.

# Integration Points

This package integrates with:

  - pkg/worker: logs pop/dispatch activity per queue
  - pkg/chain: logs per-stage outcomes and DLQ placement
  - pkg/cache: logs pull-through misses and index rebuilds
  - pkg/supervisor: logs worker restarts and shutdown
*/
package log
