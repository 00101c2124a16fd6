package links

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// DocumentStore is the cache surface links mutate documents through.
type DocumentStore interface {
	Get(ctx context.Context, uuid string) (*types.VCon, error)
	Put(ctx context.Context, vcon *types.VCon) error
}

// Register installs the builtin link modules into a registry.
func Register(reg *registry.Registry, store DocumentStore) {
	reg.RegisterLinkModule("tag", func(stage string, defaults config.Options) (registry.Link, error) {
		return &tagLink{store: store}, nil
	})
	reg.RegisterLinkModule("sampler", func(stage string, defaults config.Options) (registry.Link, error) {
		return &samplerLink{}, nil
	})
	reg.RegisterLinkModule("webhook", func(stage string, defaults config.Options) (registry.Link, error) {
		return newWebhookLink(stage, store), nil
	})
	reg.RegisterLinkModule("deflect", func(stage string, defaults config.Options) (registry.Link, error) {
		return &deflectLink{}, nil
	})
}

// tagLink appends name:value tags from the "tags" option to the
// document's tags attachment.
type tagLink struct {
	store DocumentStore
}

func (l *tagLink) Run(ctx context.Context, uuid string, opts config.Options) (string, error) {
	tags := opts.Strings("tags")
	if len(tags) == 0 {
		return uuid, nil
	}

	doc, err := l.store.Get(ctx, uuid)
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}
	for _, tag := range tags {
		name, value, ok := strings.Cut(tag, ":")
		if !ok {
			return "", registry.Permanent(fmt.Errorf("malformed tag %q, want name:value", tag))
		}
		if err := doc.SetTag(name, value); err != nil {
			return "", err
		}
	}
	if err := l.store.Put(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to store tagged document: %w", err)
	}
	return uuid, nil
}

// samplerLink passes a configurable fraction of items and filters the
// rest. Sampling is deterministic per UUID so a reprocessed item takes
// the same path it took the first time.
type samplerLink struct{}

func (l *samplerLink) Run(ctx context.Context, uuid string, opts config.Options) (string, error) {
	rate := opts.Float("rate", 1.0)
	if rate >= 1.0 {
		return uuid, nil
	}
	if rate <= 0 {
		return "", nil
	}

	h := fnv.New32a()
	h.Write([]byte(uuid))
	if float64(h.Sum32()%10000)/10000.0 < rate {
		return uuid, nil
	}
	return "", nil
}

// deflectLink hands processing to a different document named by the
// "target_uuid" option. The executor verifies the target exists.
type deflectLink struct{}

func (l *deflectLink) Run(ctx context.Context, uuid string, opts config.Options) (string, error) {
	target := opts.String("target_uuid", "")
	if target == "" {
		return "", registry.Permanent(fmt.Errorf("deflect stage requires a target_uuid option"))
	}
	return target, nil
}
