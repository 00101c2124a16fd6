package config

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
)

// Options is the free-form option bag attached to stage and storage
// definitions. Chain-level options shallow-merge over these defaults.
type Options map[string]any

// Merge returns a copy of o with overrides applied key-wise.
func (o Options) Merge(overrides Options) Options {
	merged := make(Options, len(o)+len(overrides))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// String reads a string-valued option, falling back to def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Float reads a numeric option, falling back to def. YAML hands
// integers and floats over as distinct Go types; both are accepted.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Bool reads a boolean option, falling back to def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Strings reads a list-of-strings option. Non-string elements are
// skipped. A scalar string value counts as a one-element list.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Keys holds one or more API keys for a queue. The YAML form accepts a
// bare scalar or a sequence.
type Keys []string

func (k *Keys) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*k = Keys{single}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*k = Keys(many)
	return nil
}

// Duration is a time.Duration that unmarshals from YAML as either a
// Go duration string ("30s") or a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int64
	if err := node.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StageDef declares a named stage or storage: the module implementing it,
// its default options, and an optional external package source.
type StageDef struct {
	Module  string  `yaml:"module"`
	Options Options `yaml:"options"`
	Package string  `yaml:"package"`
}

// StageRef is a chain's reference to a stage: a bare name, or a name with
// chain-level option overrides.
type StageRef struct {
	Name    string  `yaml:"name"`
	Options Options `yaml:"options"`
}

func (s *StageRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&s.Name)
	}
	type alias StageRef
	var a alias
	if err := node.Decode(&a); err != nil {
		return err
	}
	*s = StageRef(a)
	return nil
}

// ChainConfig declares one processing chain. Identity is the map key in
// the config document; Name is filled in after parse. The registry can
// demote a chain at runtime while worker goroutines read the enabled
// flag, so all access after parse goes through IsEnabled and Disable.
type ChainConfig struct {
	Name          string     `yaml:"-"`
	Stages        []StageRef `yaml:"stages"`
	Storages      []string   `yaml:"storages"`
	IngressQueues []string   `yaml:"ingress_queues"`
	EgressQueues  []string   `yaml:"egress_queues"`
	Timeout       Duration   `yaml:"timeout"`
	Enabled       *bool      `yaml:"enabled"`

	mu sync.RWMutex
}

// IsEnabled treats a missing enabled flag as true.
func (c *ChainConfig) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Enabled == nil || *c.Enabled
}

// Disable demotes the chain, keeping it loaded but inactive.
func (c *ChainConfig) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	disabled := false
	c.Enabled = &disabled
}

// Config is the validated in-memory model of the declarative document.
type Config struct {
	IngressAuth map[string]Keys         `yaml:"ingress_auth"`
	Stages      map[string]StageDef     `yaml:"stages"`
	Storages    map[string]StageDef     `yaml:"storages"`
	Chains      map[string]*ChainConfig `yaml:"chains"`
}

// Load reads and validates a config document from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a config document. Chains that reference
// unknown stages or storages are demoted to disabled rather than
// aborting startup; structural problems (a chain with no ingress queue)
// are fatal.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	logger := log.WithComponent("config")

	for name, chain := range c.Chains {
		chain.Name = name

		if len(chain.IngressQueues) == 0 {
			return fmt.Errorf("chain %q has no ingress queues", name)
		}

		for _, ref := range chain.Stages {
			if _, ok := c.Stages[ref.Name]; !ok {
				logger.Error().
					Str("chain", name).
					Str("stage", ref.Name).
					Msg("chain references unknown stage, disabling chain")
				chain.Disable()
			}
		}
		for _, storage := range chain.Storages {
			if _, ok := c.Storages[storage]; !ok {
				logger.Error().
					Str("chain", name).
					Str("storage", storage).
					Msg("chain references unknown storage, disabling chain")
				chain.Disable()
			}
		}
	}
	return nil
}

// EnabledChains returns the active chains in stable name order.
func (c *Config) EnabledChains() []*ChainConfig {
	var chains []*ChainConfig
	for _, chain := range c.Chains {
		if chain.IsEnabled() {
			chains = append(chains, chain)
		}
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Name < chains[j].Name })
	return chains
}

// IngressQueues returns the union of ingress queues across enabled
// chains, in stable order. This is the queue set a worker blocks on.
func (c *Config) IngressQueues() []string {
	seen := make(map[string]bool)
	var queues []string
	for _, chain := range c.EnabledChains() {
		for _, q := range chain.IngressQueues {
			if !seen[q] {
				seen[q] = true
				queues = append(queues, q)
			}
		}
	}
	sort.Strings(queues)
	return queues
}

// ChainsForQueue returns the enabled chains subscribed to a queue.
func (c *Config) ChainsForQueue(queue string) []*ChainConfig {
	var chains []*ChainConfig
	for _, chain := range c.EnabledChains() {
		for _, q := range chain.IngressQueues {
			if q == queue {
				chains = append(chains, chain)
				break
			}
		}
	}
	return chains
}
