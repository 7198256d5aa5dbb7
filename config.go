package tiercache

import (
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// UpdateMode selects how a successful Update propagates into earlier
// (faster) tiers, and whether Get's read-through promotion is allowed to
// fill them at all. Put always writes every tier, whatever the mode.
type UpdateMode int

const (
	// UpdateModeNone disables cross-tier propagation: Update leaves
	// earlier tiers untouched, and a Get hit in a later tier is not
	// promoted into earlier ones either.
	UpdateModeNone UpdateMode = iota
	// UpdateModeUp writes the new value into every tier faster than the
	// one that accepted the write.
	UpdateModeUp
	// UpdateModeFull writes the new value into every tier, regardless of
	// which one accepted the write.
	UpdateModeFull
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateModeUp:
		return "up"
	case UpdateModeFull:
		return "full"
	default:
		return "none"
	}
}

// HandleConfig declares one tier in a manager's ordered handle list.
type HandleConfig struct {
	// Name must be unique within a manager; used for stats/logging/hooks.
	// The registry looks factories up by Type only.
	Name string
	// Type selects the HandleFactory to use (e.g. "memory", "ristretto",
	// "bigcache", "redis").
	Type string
	// ExpirationMode/ExpirationTimeout are this handle's defaults, used
	// whenever an item's own mode is ExpireDefault.
	ExpirationMode    ExpirationMode
	ExpirationTimeout time.Duration
	// IsBackplaneSource marks the handles that originate and receive
	// backplane coherency messages. Backplane-originated invalidations
	// always target the handles for which this is false.
	IsBackplaneSource bool
	// Options carries factory-specific configuration (connection strings,
	// capacity limits, ...) opaque to the manager.
	Options map[string]any
}

// ManagerConfig is the declarative description a Builder produces and a
// Registry consumes to construct a Manager.
type ManagerConfig struct {
	Handles      []HandleConfig
	UpdateMode   UpdateMode
	BackplaneType    string
	BackplaneChannel string
	// Serializer is the default codec handed to handle factories (e.g.
	// handle/redis, handle/bigcache) through FactoryDeps for tiers that
	// store bytes. A handle's own Options["codec"] selector, when set,
	// takes precedence over this manager-wide default.
	Serializer codec.Codec[any]
	Options    map[string]any
}

// Validate checks the construction invariants from the data model: at
// least one handle, and at least one backplane-source handle whenever a
// backplane is configured.
func (c ManagerConfig) Validate() error {
	if len(c.Handles) == 0 {
		return &ConfigError{Op: "manager", Detail: "at least one handle is required"}
	}
	seen := make(map[string]bool, len(c.Handles))
	hasSource := false
	for _, h := range c.Handles {
		if h.Name == "" {
			return &ConfigError{Op: "manager", Detail: "handle name must not be empty"}
		}
		if seen[h.Name] {
			return &ConfigError{Op: "manager", Detail: "duplicate handle name " + h.Name}
		}
		seen[h.Name] = true
		if err := ValidateExpiration(h.ExpirationMode, h.ExpirationTimeout); err != nil {
			return err
		}
		if h.IsBackplaneSource {
			hasSource = true
		}
	}
	if c.BackplaneType != "" && !hasSource {
		return &ConfigError{Op: "manager", Detail: "backplane configured without a backplane-source handle"}
	}
	return nil
}
