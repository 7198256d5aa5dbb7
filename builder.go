package tiercache

import (
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// HandleOption configures a single HandleConfig appended by WithHandle.
type HandleOption func(*HandleConfig)

// WithExpiration sets a handle's default expiration policy.
func WithExpiration(mode ExpirationMode, timeout time.Duration) HandleOption {
	return func(c *HandleConfig) {
		c.ExpirationMode = mode
		c.ExpirationTimeout = timeout
	}
}

// AsBackplaneSource marks the handle as the shared authority whose changes
// the backplane broadcasts.
func AsBackplaneSource() HandleOption {
	return func(c *HandleConfig) { c.IsBackplaneSource = true }
}

// WithHandleOption attaches a factory-specific option under key.
func WithHandleOption(key string, value any) HandleOption {
	return func(c *HandleConfig) {
		if c.Options == nil {
			c.Options = make(map[string]any)
		}
		c.Options[key] = value
	}
}

// Builder accumulates a ManagerConfig through chained, declarative calls.
// It mirrors the functional-options style: every With* method mutates and
// returns the same Builder.
type Builder struct {
	cfg ManagerConfig
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithHandle appends a handle of the given type under name, applying opts
// in order.
func (b *Builder) WithHandle(handleType, name string, opts ...HandleOption) *Builder {
	c := HandleConfig{Type: handleType, Name: name}
	for _, opt := range opts {
		opt(&c)
	}
	b.cfg.Handles = append(b.cfg.Handles, c)
	return b
}

// WithUpdateMode selects the propagation policy for successful writes.
func (b *Builder) WithUpdateMode(mode UpdateMode) *Builder {
	b.cfg.UpdateMode = mode
	return b
}

// WithBackplane attaches a backplane of the given type on channel.
func (b *Builder) WithBackplane(backplaneType, channel string) *Builder {
	b.cfg.BackplaneType = backplaneType
	b.cfg.BackplaneChannel = channel
	return b
}

// WithSerializer sets the default codec passed to handle factories for
// tiers that store bytes (handle/redis, handle/bigcache). A handle's own
// Options["codec"] selector, when present, still wins over this default.
func (b *Builder) WithSerializer(c codec.Codec[any]) *Builder {
	b.cfg.Serializer = c
	return b
}

// WithOption attaches a manager-level option (e.g. a connection string
// shared by multiple handles) under key.
func (b *Builder) WithOption(key string, value any) *Builder {
	if b.cfg.Options == nil {
		b.cfg.Options = make(map[string]any)
	}
	b.cfg.Options[key] = value
	return b
}

// Build validates and returns the accumulated ManagerConfig.
func (b *Builder) Build() (ManagerConfig, error) {
	if err := b.cfg.Validate(); err != nil {
		return ManagerConfig{}, err
	}
	return b.cfg, nil
}
