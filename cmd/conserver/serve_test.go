package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
)

func TestStorageAddress(t *testing.T) {
	addr, ok := storageAddress(config.StageDef{
		Module:  "postgres",
		Options: config.Options{"dsn": "postgres://conserver@db-host/vcons"},
	})
	assert.True(t, ok)
	assert.Equal(t, "db-host:5432", addr)

	addr, ok = storageAddress(config.StageDef{
		Module:  "redis",
		Options: config.Options{"url": "redis://cache-host:6380/1"},
	})
	assert.True(t, ok)
	assert.Equal(t, "cache-host:6380", addr)

	// Embedded backends have nothing to dial
	_, ok = storageAddress(config.StageDef{
		Module:  "bolt",
		Options: config.Options{"path": "/var/lib/conserver/vcons.db"},
	})
	assert.False(t, ok)
}
