/*
Package storages holds the builtin persistence backends.

Each backend implements the save contract (read the current document
from the cache, persist it) plus Get and Delete so it participates in
cache pull-through and delete propagation. postgres stores JSONB rows,
bolt a local BoltDB file, redis a second TTL-free Redis keyspace. The
core exchanges only JSON documents and UUIDs; the on-disk shape is each
backend's own concern.
*/
package storages
