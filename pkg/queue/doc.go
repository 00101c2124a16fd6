/*
Package queue wraps Redis with the primitives the conserver pipeline is
built on.

Everything multi-process in this system coordinates through Redis: work
queues are lists of UUIDs, the document cache is TTL-bounded JSON keys,
and the secondary indexes are sets and a sorted set. This package keeps
that surface small and explicit:

  - BlockingPop: atomic multi-queue BLPOP. This is the serialization
    primitive of the whole design; an item popped here is owned by
    exactly one worker, replacing any per-document locking.
  - PushLeft/PushRight: head insert for requeue-on-shutdown, tail insert
    for normal FIFO production.
  - SetJSON/GetJSON/Delete/Expire: the document cache surface.
  - ZAdd/ZRem/ZRangeByScore, SAdd/SRem/SMembers/SInter: the timestamp
    and party indexes.
  - Pipelined: transactional multi-key writes so a document and its
    index entries update together.

Key conventions:

	vcon:<uuid>     JSON document, TTL-bounded
	vcons           sorted set of UUIDs scored by created_at epoch
	tel:<digits>    set of UUIDs
	mailto:<addr>   set of UUIDs
	name:<name>     set of UUIDs
	<queue>         list of UUIDs, producers RPUSH, workers BLPOP
	DLQ:<queue>     dead-letter list, same semantics

Transient connection failures retry inside go-redis with capped
exponential backoff (3 attempts, 100ms..2s); persistent failures are
returned to the caller, which treats them as infrastructure failures.
*/
package queue
