package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vcon-dev/vcon-server-sub000/pkg/auth"
	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/dlq"
	"github.com/vcon-dev/vcon-server-sub000/pkg/ops"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit a vCon document for processing",
	Long: `Read a vCon JSON document from FILE (or stdin with "-"), cache it
and push its UUID onto the given ingress queues. A document without a
uuid gets a fresh one, printed on success.

With --key the submission goes through the ingress authenticator as an
external producer would, against a single queue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queues, _ := cmd.Flags().GetStringSlice("queue")
		key, _ := cmd.Flags().GetString("key")
		if len(queues) == 0 {
			return fmt.Errorf("--queue is required")
		}
		if key != "" && len(queues) != 1 {
			return fmt.Errorf("--key submits to exactly one queue")
		}

		doc, err := readDocument(args[0])
		if err != nil {
			return err
		}
		if doc.UUID == "" {
			doc.UUID = types.NewVCon().UUID
		}

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
		cfg, err := config.Load(settings.ConfigPath)
		if err != nil {
			return err
		}
		facade := ops.New(client, c, dlq.NewManager(client, c), auth.NewValidator(cfg))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if key != "" {
			err = facade.ExternalSubmit(ctx, queues[0], key, doc)
		} else {
			err = facade.Submit(ctx, doc, queues)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Submitted %s to %v\n", doc.UUID, queues)
		return nil
	},
}

func readDocument(path string) (*types.VCon, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	var doc types.VCon
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid vCon document: %w", err)
	}
	return &doc, nil
}

func init() {
	submitCmd.Flags().StringSlice("queue", nil, "Ingress queue(s) to push onto")
	submitCmd.Flags().String("key", "", "Ingress API key (external submission)")
	rootCmd.AddCommand(submitCmd)
}
