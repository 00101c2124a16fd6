package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
)

// ExternalLink runs a stage out of process over HTTP. The endpoint
// receives POST {"uuid": ..., "stage": ..., "options": {...}} and
// answers {"uuid": "..."} to continue, {"uuid": null} to filter.
// A 4xx status is a permanent failure, 5xx and transport errors are
// recoverable.
type ExternalLink struct {
	stage    string
	endpoint string
	client   *http.Client
}

type externalRequest struct {
	UUID    string         `json:"uuid"`
	Stage   string         `json:"stage"`
	Options config.Options `json:"options,omitempty"`
}

type externalResponse struct {
	UUID *string `json:"uuid"`
}

// NewExternalLink creates a link speaking the out-of-process stage
// contract against an HTTP endpoint.
func NewExternalLink(stage, endpoint string) *ExternalLink {
	return &ExternalLink{
		stage:    stage,
		endpoint: endpoint,
		// Per-call deadlines come from the executor's stage timeout;
		// this is a transport-level backstop.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Run implements the Link contract.
func (e *ExternalLink) Run(ctx context.Context, uuid string, opts config.Options) (string, error) {
	body, err := json.Marshal(externalRequest{UUID: uuid, Stage: e.stage, Options: opts})
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to encode stage request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", Recoverable(fmt.Errorf("stage endpoint unreachable: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return "", nil // filtered
	case resp.StatusCode >= 500:
		return "", Recoverable(fmt.Errorf("stage endpoint returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", Permanent(fmt.Errorf("stage endpoint returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", Recoverable(err)
	}
	var out externalResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", Permanent(fmt.Errorf("invalid stage response: %w", err))
	}
	if out.UUID == nil {
		return "", nil // filtered
	}
	return *out.UUID, nil
}
