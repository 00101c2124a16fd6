package dlq

import (
	"context"
	"fmt"

	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/chain"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// maxListItems bounds a single List read so an operator inspecting a
// runaway dead-letter list cannot pull the whole thing into memory.
const maxListItems = 1000

// Manager implements dead-letter inspection and recovery for a queue's
// DLQ list plus the failure markers the executor writes alongside.
type Manager struct {
	client *queue.Client
	cache  *cache.Cache
}

// NewManager creates a DLQ manager instance
func NewManager(client *queue.Client, c *cache.Cache) *Manager {
	return &Manager{client: client, cache: c}
}

// List returns the current contents of the queue's dead-letter list,
// bounded to the first maxListItems entries.
func (m *Manager) List(ctx context.Context, queueName string) ([]string, error) {
	items, err := m.client.Range(ctx, queue.DLQName(queueName), 0, maxListItems-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ for %s: %w", queueName, err)
	}
	return items, nil
}

// Reprocess drains the queue's dead-letter list back onto the tail of
// the originating queue, one atomic move per item, restoring each
// document's normal cache TTL and dropping its failure marker. Returns
// the number of items moved.
//
// The drain is bounded by the list length at entry so an item that
// fails again while we drain cannot make Reprocess loop forever.
func (m *Manager) Reprocess(ctx context.Context, queueName string) (int, error) {
	logger := log.WithComponent("dlq").With().Str("queue", queueName).Logger()
	dlqName := queue.DLQName(queueName)

	pending, err := m.client.Length(ctx, dlqName)
	if err != nil {
		return 0, fmt.Errorf("failed to size DLQ for %s: %w", queueName, err)
	}

	moved := 0
	for int64(moved) < pending {
		uuid, ok, err := m.client.MoveHeadToTail(ctx, dlqName, queueName)
		if err != nil {
			return moved, fmt.Errorf("failed to move DLQ item back to %s: %w", queueName, err)
		}
		if !ok {
			break
		}
		moved++

		if err := m.cache.RestoreTTL(ctx, uuid); err != nil {
			logger.Warn().Err(err).Str("vcon_uuid", uuid).Msg("failed to restore document TTL")
		}
		if err := m.client.Delete(ctx, chain.MarkerKey(uuid)); err != nil {
			logger.Warn().Err(err).Str("vcon_uuid", uuid).Msg("failed to delete failure marker")
		}
	}

	logger.Info().Int("moved", moved).Msg("DLQ reprocessed")
	return moved, nil
}

// Purge removes a specific UUID from the queue's dead-letter list and
// deletes its failure marker. Returns false when the item was not on
// the list.
func (m *Manager) Purge(ctx context.Context, queueName, uuid string) (bool, error) {
	removed, err := m.client.Remove(ctx, queue.DLQName(queueName), uuid, 0)
	if err != nil {
		return false, fmt.Errorf("failed to purge %s from DLQ: %w", uuid, err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := m.client.Delete(ctx, chain.MarkerKey(uuid)); err != nil {
		logger := log.WithComponent("dlq")
		logger.Warn().Err(err).Str("vcon_uuid", uuid).Msg("failed to delete failure marker")
	}
	return true, nil
}

// FailureMarker returns the structured failure record written when the
// UUID was dead-lettered. ok is false when no marker exists.
func (m *Manager) FailureMarker(ctx context.Context, uuid string) (*types.FailureMarker, bool, error) {
	var marker types.FailureMarker
	ok, err := m.client.GetJSON(ctx, chain.MarkerKey(uuid), &marker)
	if err != nil || !ok {
		return nil, false, err
	}
	return &marker, true, nil
}
