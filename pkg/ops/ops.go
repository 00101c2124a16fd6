package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/auth"
	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/dlq"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// ErrUnauthorized is returned by ExternalSubmit when the presented key
// does not match any configured key for the queue. Nothing is cached or
// queued in that case.
var ErrUnauthorized = errors.New("ingress key rejected")

// ErrNotFound is returned by Fetch when the UUID exists in neither the
// cache nor any configured backend.
var ErrNotFound = cache.ErrNotFound

// Facade bundles the operations the HTTP boundary and the CLI call into
// the core: submission, lookup, search and dead-letter management. It
// owns no goroutines; every call is synchronous against Redis.
type Facade struct {
	client    *queue.Client
	cache     *cache.Cache
	dlq       *dlq.Manager
	validator *auth.Validator
}

// New creates an operations facade instance
func New(client *queue.Client, c *cache.Cache, d *dlq.Manager, v *auth.Validator) *Facade {
	return &Facade{client: client, cache: c, dlq: d, validator: v}
}

// Submit writes the document through the cache and right-pushes its
// UUID onto each ingress queue. Submission succeeds as soon as the
// document is cached and queued; processing outcomes surface later via
// the cache, egress queues and DLQ.
func (f *Facade) Submit(ctx context.Context, vcon *types.VCon, ingressQueues []string) error {
	if vcon.UUID == "" {
		return fmt.Errorf("document has no uuid")
	}
	if err := f.cache.Put(ctx, vcon); err != nil {
		return fmt.Errorf("failed to cache %s: %w", vcon.UUID, err)
	}
	for _, q := range ingressQueues {
		if err := f.client.PushRight(ctx, q, vcon.UUID); err != nil {
			return fmt.Errorf("failed to queue %s on %s: %w", vcon.UUID, q, err)
		}
	}
	logger := log.WithComponent("ops")
	logger.Debug().
		Str("vcon_uuid", vcon.UUID).
		Strs("queues", ingressQueues).
		Msg("document submitted")
	return nil
}

// ExternalSubmit is Submit gated by the per-queue ingress key. A
// rejected request leaves no trace in Redis.
func (f *Facade) ExternalSubmit(ctx context.Context, queueName, presentedKey string, vcon *types.VCon) error {
	if !f.validator.Validate(queueName, presentedKey) {
		return ErrUnauthorized
	}
	return f.Submit(ctx, vcon, []string{queueName})
}

// Fetch returns the document for a UUID, pulling through to the
// configured storage backends on a cache miss.
func (f *Facade) Fetch(ctx context.Context, uuid string) (*types.VCon, error) {
	return f.cache.Get(ctx, uuid)
}

// Search returns the UUIDs matching every given party attribute via
// secondary-index intersection. An empty filter matches nothing.
func (f *Facade) Search(ctx context.Context, filter cache.Filter) ([]string, error) {
	return f.cache.Search(ctx, filter)
}

// ListByTime returns UUIDs created within [start, end], ordered by
// creation time.
func (f *Facade) ListByTime(ctx context.Context, start, end time.Time) ([]string, error) {
	return f.cache.ListByTime(ctx, start, end)
}

// Delete removes the document from the cache and secondary indexes and
// propagates a best-effort delete to the storage backends.
func (f *Facade) Delete(ctx context.Context, uuid string) error {
	return f.cache.Delete(ctx, uuid)
}

// DLQList returns the contents of the queue's dead-letter list.
func (f *Facade) DLQList(ctx context.Context, queueName string) ([]string, error) {
	return f.dlq.List(ctx, queueName)
}

// DLQReprocess moves every dead-lettered item back onto the tail of the
// originating queue, returning how many were moved.
func (f *Facade) DLQReprocess(ctx context.Context, queueName string) (int, error) {
	return f.dlq.Reprocess(ctx, queueName)
}

// DLQPurge removes a specific item from the queue's dead-letter list.
func (f *Facade) DLQPurge(ctx context.Context, queueName, uuid string) (bool, error) {
	return f.dlq.Purge(ctx, queueName, uuid)
}
