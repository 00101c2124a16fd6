/*
Package types defines the core data structures shared across the conserver
pipeline.

The central type is VCon, the standardized JSON conversation record that
flows through chains. The core treats the document as mostly opaque: it
decodes only the fields it needs (uuid, created_at, parties for the
secondary indexes, the tags attachment for routing decisions) and
round-trips everything else untouched, including top-level fields it has
never seen.

FailureMarker and Classification describe why an item was dead-lettered;
they are produced by pkg/chain and read back by pkg/dlq.
*/
package types
