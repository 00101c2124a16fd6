package storages

import (
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
)

// Register installs the builtin storage modules into a registry. Each
// backend reads the document being saved through source. A backend
// reports an absent UUID as (nil, nil) so the cache keeps probing the
// remaining backends on pull-through.
func Register(reg *registry.Registry, source registry.DocumentSource) {
	reg.RegisterStorageModule("postgres", func(name string, opts config.Options) (registry.Storage, error) {
		return NewPostgresStorage(name, source, opts)
	})
	reg.RegisterStorageModule("bolt", func(name string, opts config.Options) (registry.Storage, error) {
		return NewBoltStorage(name, source, opts)
	})
	reg.RegisterStorageModule("redis", func(name string, opts config.Options) (registry.Storage, error) {
		return NewRedisStorage(name, source, opts)
	})
}
