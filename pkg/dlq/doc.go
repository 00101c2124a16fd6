/*
Package dlq implements inspection and recovery of dead-letter lists.

Every ingress queue has a dead-letter list holding UUIDs whose chain
execution failed, each with a structured failure marker recording the
stage, classification and error. Operators list a DLQ (bounded read),
reprocess it (atomic per-item move back to the queue tail, restoring the
normal cache TTL), or purge individual items.
*/
package dlq
