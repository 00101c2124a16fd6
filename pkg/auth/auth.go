package auth

import (
	"crypto/subtle"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
)

// Validator answers whether a presented API key may submit to a queue.
// Keys are declared per queue in the ingress_auth config section; a
// queue with no declared keys accepts no external submissions at all.
type Validator struct {
	keys map[string]config.Keys
}

// NewValidator creates a validator instance from the loaded config
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{keys: cfg.IngressAuth}
}

// Validate returns true iff presentedKey matches any configured key for
// queueName. Comparisons are constant-time so key probing leaks
// nothing through response timing.
func (v *Validator) Validate(queueName, presentedKey string) bool {
	logger := log.WithComponent("auth")
	keys, ok := v.keys[queueName]
	if !ok || presentedKey == "" {
		logger.Debug().
			Str("queue", queueName).
			Bool("queue_known", ok).
			Msg("ingress submission rejected")
		return false
	}
	for _, key := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presentedKey)) == 1 {
			return true
		}
	}
	logger.Debug().Str("queue", queueName).Msg("ingress key mismatch")
	return false
}
