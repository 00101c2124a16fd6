/*
Package supervisor keeps the worker pool at its configured size.

Each worker slot is owned by one supervision goroutine: build a worker
via the factory, run it, and if it exits without a shutdown request,
build a replacement after an exponential backoff. Restarts are counted
within a sliding window; a slot that exceeds its budget is declared
fatal on Done so the process exits instead of crash-looping quietly.

Stop fans out to every live worker in parallel, each bounded by the
configured grace period, then waits for all supervision goroutines.
*/
package supervisor
