package metrics

import (
	"context"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
)

// Collector samples queue depths into the QueueDepth and DLQDepth
// gauges on a fixed interval.
type Collector struct {
	client *queue.Client
	queues []string
	stopCh chan struct{}
}

// NewCollector creates a collector for the given ingress queues. The
// matching DLQs are derived and sampled too.
func NewCollector(client *queue.Client, queues []string) *Collector {
	return &Collector{
		client: client,
		queues: queues,
		stopCh: make(chan struct{}),
	}
}

// Start begins sampling
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := log.WithComponent("metrics")
	for _, q := range c.queues {
		depth, err := c.client.Length(ctx, q)
		if err != nil {
			logger.Debug().Err(err).Str("queue", q).Msg("failed to sample queue depth")
			continue
		}
		QueueDepth.WithLabelValues(q).Set(float64(depth))

		dlqDepth, err := c.client.Length(ctx, queue.DLQName(q))
		if err != nil {
			continue
		}
		DLQDepth.WithLabelValues(q).Set(float64(dlqDepth))
	}
}
