package tiercache

import (
	"fmt"

	"github.com/unkn0wn-root/tiercache/codec"
)

// FactoryDeps bundles the already-constructed components a HandleFactory or
// BackplaneFactory may need: the manager's logger, its configured channel
// name, and the manager-wide default serializer. The handle's own declared
// configuration is passed to the factory as a separate argument. This
// replaces reflective constructor matching with an
// explicit, compile-time-checked dependency list every factory function
// receives up front.
type FactoryDeps struct {
	Logger     Logger
	Channel    string
	Serializer codec.Codec[any]
}

// HandleFactory constructs one Handle[V] from its declared configuration.
// Construction errors are fatal and must name the offending handle.
type HandleFactory[V any] func(cfg HandleConfig, deps FactoryDeps) (Handle[V], error)

// BackplaneFactory constructs a Backplane from the manager's configured
// type and channel name.
type BackplaneFactory func(channel string, deps FactoryDeps, opts map[string]any) (Backplane, error)

// Registry is an explicit typed lookup from configuration identifiers to
// constructors — a registry keyed by string, not reflection over
// constructor signatures. Handle subpackages register themselves into a
// Registry the caller owns; the core ships no built-in registrations.
type Registry[V any] struct {
	handles     map[string]HandleFactory[V]
	backplanes  map[string]BackplaneFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{
		handles:    make(map[string]HandleFactory[V]),
		backplanes: make(map[string]BackplaneFactory),
	}
}

// RegisterHandle associates handleType with a constructor. Re-registering a
// type overwrites the previous constructor.
func (r *Registry[V]) RegisterHandle(handleType string, factory HandleFactory[V]) {
	r.handles[handleType] = factory
}

// RegisterBackplane associates backplaneType with a constructor.
func (r *Registry[V]) RegisterBackplane(backplaneType string, factory BackplaneFactory) {
	r.backplanes[backplaneType] = factory
}

// Build constructs a Manager[V] from cfg: logger, then backplane (if
// configured), then each handle in declared order, matching spec.md's
// factory construction order.
func (r *Registry[V]) Build(cfg ManagerConfig, logger Logger, hooks Hooks) (*Manager[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = coalesce[Logger](logger, NopLogger{})
	hooks = coalesce[Hooks](hooks, NopHooks{})

	deps := FactoryDeps{Logger: logger, Channel: cfg.BackplaneChannel, Serializer: cfg.Serializer}

	var bp Backplane
	if cfg.BackplaneType != "" {
		factory, ok := r.backplanes[cfg.BackplaneType]
		if !ok {
			return nil, &ConfigError{Op: "backplane", Detail: fmt.Sprintf("no registered factory for type %q", cfg.BackplaneType)}
		}
		built, err := factory(cfg.BackplaneChannel, deps, cfg.Options)
		if err != nil {
			return nil, &ConfigError{Op: "backplane", Detail: err.Error()}
		}
		bp = built
	}

	handles := make([]Handle[V], 0, len(cfg.Handles))
	for _, hc := range cfg.Handles {
		factory, ok := r.handles[hc.Type]
		if !ok {
			return nil, &ConfigError{Op: "handle:" + hc.Name, Detail: fmt.Sprintf("no registered factory for type %q", hc.Type)}
		}
		h, err := factory(hc, deps)
		if err != nil {
			return nil, &ConfigError{Op: "handle:" + hc.Name, Detail: err.Error()}
		}
		handles = append(handles, h)
	}

	return newManager(cfg, handles, bp, logger, hooks)
}
