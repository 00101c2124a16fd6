/*
Package cache implements the pull-through vCon cache fronting the
persistent storage backends.

# Read path

Get(uuid) checks vcon:<uuid> first; a hit returns without touching the
TTL. On a miss the configured backends are probed in declared order and
the first hit is written back through the cache: document stored with
the cache TTL, UUID inserted into the timestamp sorted set scored by
created_at epoch, and party secondary indexes refreshed. Only when
every backend misses does Get return ErrNotFound.

# Write path

Put stores the document and rebuilds the per-UUID index memberships in
one transactional pipeline, removing memberships the previous version
of the document held but the new one does not. There is no per-document
lock: concurrent writers compose last-writer-wins on the document and
set-union on the indexes. Serialization for pipeline traffic comes from
the queue layer handing each popped UUID to exactly one worker.

# TTL policy

Three independent expirations: the document (default 1h), the secondary
indexes (default 24h, longer so repeated pull-through reads don't
rebuild them), and DLQ-resident documents (default 7d, 0 disables).
ExtendTTL/RestoreTTL move a document between the normal and DLQ
retention classes.

# Secondary indexes

Each party contributes up to three set memberships: tel:<digits>,
mailto:<lowercased>, name:<lowercased-trimmed>. Search intersects the
sets for whichever attributes the caller provides.
*/
package cache
