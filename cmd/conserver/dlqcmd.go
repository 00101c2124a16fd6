package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/dlq"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and recover dead-letter lists",
}

// withDLQManager connects to Redis using the environment settings and
// hands a DLQ manager to fn.
func withDLQManager(fn func(ctx context.Context, m *dlq.Manager) error) error {
	settings := config.SettingsFromEnv()
	client, err := queue.NewClient(settings.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	c := cache.New(client, cache.Config{
		DocTTL:    settings.CacheTTL,
		IndexTTL:  settings.IndexTTL,
		DLQTTL:    settings.DLQTTL,
		SortedSet: settings.SortedSetName,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, dlq.NewManager(client, c))
}

var dlqListCmd = &cobra.Command{
	Use:   "list QUEUE",
	Short: "List dead-lettered items for a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQManager(func(ctx context.Context, m *dlq.Manager) error {
			items, err := m.List(ctx, args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Printf("DLQ:%s is empty\n", args[0])
				return nil
			}
			for _, uuid := range items {
				marker, ok, err := m.FailureMarker(ctx, uuid)
				if err != nil {
					return err
				}
				if ok {
					fmt.Printf("%s  chain=%s stage=%s classification=%s error=%q\n",
						uuid, marker.Chain, marker.Stage, marker.Classification, marker.Error)
				} else {
					fmt.Println(uuid)
				}
			}
			return nil
		})
	},
}

var dlqReprocessCmd = &cobra.Command{
	Use:   "reprocess QUEUE",
	Short: "Move dead-lettered items back onto the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQManager(func(ctx context.Context, m *dlq.Manager) error {
			moved, err := m.Reprocess(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Moved %d items from DLQ:%s back to %s\n", moved, args[0], args[0])
			return nil
		})
	},
	Args: cobra.ExactArgs(1),
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge QUEUE UUID",
	Short: "Remove one item from a dead-letter list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQManager(func(ctx context.Context, m *dlq.Manager) error {
			removed, err := m.Purge(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s not found on DLQ:%s", args[1], args[0])
			}
			fmt.Printf("Purged %s from DLQ:%s\n", args[1], args[0])
			return nil
		})
	},
}

func init() {
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReprocessCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
}
