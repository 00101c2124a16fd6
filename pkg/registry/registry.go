package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// Link is a processing stage. Run receives the current UUID and the
// merged option bag and returns the UUID to continue the chain with
// (which may differ from the input when the link hands processing to
// another document). An empty UUID with a nil error means the link
// filtered the item: the chain halts cleanly with no storage fan-out,
// no egress and no DLQ. An error halts the chain as a failure.
type Link interface {
	Run(ctx context.Context, uuid string, opts config.Options) (string, error)
}

// LinkFunc adapts a plain function to the Link interface.
type LinkFunc func(ctx context.Context, uuid string, opts config.Options) (string, error)

func (f LinkFunc) Run(ctx context.Context, uuid string, opts config.Options) (string, error) {
	return f(ctx, uuid, opts)
}

// Storage is a persistence backend. Save reads the current document
// from the cache and persists it. Backends optionally implement
//
//	Get(ctx context.Context, uuid string) (*types.VCon, error)
//	Delete(ctx context.Context, uuid string) error
//
// to participate in cache pull-through and delete propagation.
type Storage interface {
	Name() string
	Save(ctx context.Context, uuid string, opts config.Options) error
}

// DocumentSource is where storages read the document being saved.
// Implemented by the vCon cache.
type DocumentSource interface {
	Get(ctx context.Context, uuid string) (*types.VCon, error)
}

// LinkBuilder constructs a link for a configured stage with its
// declared default options.
type LinkBuilder func(stageName string, defaults config.Options) (Link, error)

// StorageBuilder constructs a storage backend for a configured name
// with its declared options.
type StorageBuilder func(name string, opts config.Options) (Storage, error)

// ErrUnresolved marks a stage whose module could not be resolved or
// installed. Chains referencing it are disabled.
var ErrUnresolved = errors.New("stage permanently unresolved")

// Registry resolves configured stage and storage names to executable
// modules. Resolution is lazy at first use and cached per process.
type Registry struct {
	cfg *config.Config

	mu             sync.Mutex
	linkModules    map[string]LinkBuilder
	storageModules map[string]StorageBuilder
	links          map[string]resolvedLink
	storages       map[string]resolvedStorage
	unresolved     map[string]bool
}

type resolvedLink struct {
	link     Link
	defaults config.Options
}

type resolvedStorage struct {
	storage  Storage
	defaults config.Options
}

// New creates a registry over a validated config.
func New(cfg *config.Config) *Registry {
	return &Registry{
		cfg:            cfg,
		linkModules:    make(map[string]LinkBuilder),
		storageModules: make(map[string]StorageBuilder),
		links:          make(map[string]resolvedLink),
		storages:       make(map[string]resolvedStorage),
		unresolved:     make(map[string]bool),
	}
}

// RegisterLinkModule registers a builtin link module.
func (r *Registry) RegisterLinkModule(module string, builder LinkBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linkModules[module] = builder
}

// RegisterStorageModule registers a builtin storage module.
func (r *Registry) RegisterStorageModule(module string, builder StorageBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storageModules[module] = builder
}

// ResolveLink resolves a configured stage name to a link plus its
// declared default options. Unknown modules with an http(s) package
// source resolve to an out-of-process link speaking the JSON stage
// contract; anything else is marked permanently unresolved and every
// chain containing the stage is disabled.
func (r *Registry) ResolveLink(stageName string) (Link, config.Options, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unresolved[stageName] {
		return nil, nil, fmt.Errorf("stage %q: %w", stageName, ErrUnresolved)
	}
	if resolved, ok := r.links[stageName]; ok {
		return resolved.link, resolved.defaults, nil
	}

	def, ok := r.cfg.Stages[stageName]
	if !ok {
		return nil, nil, fmt.Errorf("stage %q is not configured", stageName)
	}

	link, err := r.buildLink(stageName, def)
	if err != nil {
		r.markUnresolved(stageName, err)
		return nil, nil, fmt.Errorf("stage %q: %w", stageName, ErrUnresolved)
	}

	r.links[stageName] = resolvedLink{link: link, defaults: def.Options}
	return link, def.Options, nil
}

func (r *Registry) buildLink(stageName string, def config.StageDef) (Link, error) {
	if builder, ok := r.linkModules[def.Module]; ok {
		return builder(stageName, def.Options)
	}
	// Module not compiled in: "install" from the declared package
	// source. In a statically linked binary the only installable form
	// is an out-of-process stage behind an HTTP endpoint.
	if isHTTPSource(def.Package) {
		return NewExternalLink(stageName, def.Package), nil
	}
	if def.Package != "" {
		return nil, fmt.Errorf("cannot install module %q from source %q", def.Module, def.Package)
	}
	return nil, fmt.Errorf("unknown module %q", def.Module)
}

// ResolveStorage resolves a configured storage name to a backend plus
// its declared options.
func (r *Registry) ResolveStorage(name string) (Storage, config.Options, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unresolved[name] {
		return nil, nil, fmt.Errorf("storage %q: %w", name, ErrUnresolved)
	}
	if resolved, ok := r.storages[name]; ok {
		return resolved.storage, resolved.defaults, nil
	}

	def, ok := r.cfg.Storages[name]
	if !ok {
		return nil, nil, fmt.Errorf("storage %q is not configured", name)
	}

	builder, ok := r.storageModules[def.Module]
	if !ok {
		err := fmt.Errorf("unknown storage module %q", def.Module)
		r.markUnresolvedStorage(name, err)
		return nil, nil, fmt.Errorf("storage %q: %w", name, ErrUnresolved)
	}
	storage, err := builder(name, def.Options)
	if err != nil {
		r.markUnresolvedStorage(name, err)
		return nil, nil, fmt.Errorf("storage %q: %w", name, ErrUnresolved)
	}

	r.storages[name] = resolvedStorage{storage: storage, defaults: def.Options}
	return storage, def.Options, nil
}

// markUnresolved records the failure and disables every chain whose
// stage list references the stage. Callers hold r.mu.
func (r *Registry) markUnresolved(stageName string, cause error) {
	r.unresolved[stageName] = true
	logger := log.WithComponent("registry")
	for _, chain := range r.cfg.Chains {
		if !chain.IsEnabled() {
			continue
		}
		for _, ref := range chain.Stages {
			if ref.Name == stageName {
				logger.Error().Err(cause).
					Str("chain", chain.Name).
					Str("stage", stageName).
					Msg("stage unresolvable, disabling chain")
				chain.Disable()
				break
			}
		}
	}
}

func (r *Registry) markUnresolvedStorage(name string, cause error) {
	r.unresolved[name] = true
	logger := log.WithComponent("registry")
	for _, chain := range r.cfg.Chains {
		if !chain.IsEnabled() {
			continue
		}
		for _, s := range chain.Storages {
			if s == name {
				logger.Error().Err(cause).
					Str("chain", chain.Name).
					Str("storage", name).
					Msg("storage unresolvable, disabling chain")
				chain.Disable()
				break
			}
		}
	}
}

func isHTTPSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// StageError carries a failure classification through the stage
// contract so the executor can mark the DLQ entry.
type StageError struct {
	Classification types.Classification
	Err            error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failure: %v", e.Classification, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err as a retry-worthy stage failure.
func Recoverable(err error) error {
	return &StageError{Classification: types.ClassificationRecoverable, Err: err}
}

// Permanent wraps err as a do-not-retry stage failure.
func Permanent(err error) error {
	return &StageError{Classification: types.ClassificationPermanent, Err: err}
}

// Classify buckets an arbitrary stage error. Timeouts and unmarked
// errors count as recoverable; only an explicit Permanent marks the
// entry do-not-retry.
func Classify(err error) types.Classification {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Classification
	}
	return types.ClassificationRecoverable
}
