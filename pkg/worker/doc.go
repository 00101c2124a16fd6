/*
Package worker implements the queue-driven processing loop.

One worker blocks on the union of all enabled chains' ingress queues
with a short pop timeout, re-checking the shutdown flag between
timeouts. The atomic multi-queue pop is the delivery guarantee: each
queued UUID is handed to exactly one worker per pop event, so two
workers never process the same pop concurrently (a UUID pushed twice is
two independent work items).

For each popped item every enabled chain subscribed to the originating
queue executes, serially within the worker, each chain independent of
its siblings. A stage failure never terminates the worker; only
persistent infrastructure failure (repeated pop errors) makes Run
return an error, which the supervisor treats as an unexpected exit.

Shutdown distinguishes "between items" (exit immediately) from "mid
chain" (finish within the grace period). If grace elapses first the
in-flight UUID is pushed back onto the head of its originating queue so
it is the next item delivered, and the loop is cancelled.
*/
package worker
