package links

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
)

// webhookLink POSTs the full document to each URL in the "urls" option.
// All URLs must accept the delivery for the stage to succeed: a 5xx or
// transport error is recoverable (the whole item retries via DLQ), a
// 4xx is permanent.
type webhookLink struct {
	stage  string
	store  DocumentStore
	client *http.Client
}

func newWebhookLink(stage string, store DocumentStore) *webhookLink {
	return &webhookLink{
		stage: stage,
		store: store,
		// Per-call deadlines come from the executor's stage timeout;
		// this is a transport-level backstop.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (l *webhookLink) Run(ctx context.Context, uuid string, opts config.Options) (string, error) {
	urls := opts.Strings("urls")
	if len(urls) == 0 {
		return uuid, nil
	}

	doc, err := l.store.Get(ctx, uuid)
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", registry.Permanent(fmt.Errorf("failed to encode document: %w", err))
	}

	logger := log.WithComponent("links").With().Str("stage", l.stage).Str("vcon_uuid", uuid).Logger()
	for _, url := range urls {
		if err := l.deliver(ctx, url, body); err != nil {
			return "", err
		}
		logger.Debug().Str("url", url).Msg("webhook delivered")
	}
	return uuid, nil
}

func (l *webhookLink) deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return registry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return registry.Recoverable(fmt.Errorf("webhook %s unreachable: %w", url, err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 500:
		return registry.Recoverable(fmt.Errorf("webhook %s returned %d", url, resp.StatusCode))
	case resp.StatusCode >= 400:
		return registry.Permanent(fmt.Errorf("webhook %s returned %d", url, resp.StatusCode))
	}
	return nil
}
