package tiercache_test

import (
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
)

func TestManagerConfigValidateRequiresAtLeastOneHandle(t *testing.T) {
	cfg := tiercache.ManagerConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate with no handles should fail")
	}
}

func TestManagerConfigValidateRejectsDuplicateNames(t *testing.T) {
	cfg := tiercache.ManagerConfig{Handles: []tiercache.HandleConfig{
		{Name: "l1", Type: "memory"},
		{Name: "l1", Type: "redis"},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate with duplicate handle names should fail")
	}
}

func TestManagerConfigValidateRejectsBackplaneWithoutSource(t *testing.T) {
	cfg := tiercache.ManagerConfig{
		Handles:       []tiercache.HandleConfig{{Name: "l1", Type: "memory"}},
		BackplaneType: "redis-pubsub",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate with a backplane but no source handle should fail")
	}
}

func TestManagerConfigValidateAcceptsBackplaneWithSource(t *testing.T) {
	cfg := tiercache.ManagerConfig{
		Handles: []tiercache.HandleConfig{
			{Name: "l1", Type: "memory"},
			{Name: "shared", Type: "redis", IsBackplaneSource: true},
		},
		BackplaneType: "redis-pubsub",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestManagerConfigValidateRejectsBadExpiration(t *testing.T) {
	cfg := tiercache.ManagerConfig{Handles: []tiercache.HandleConfig{
		{Name: "l1", Type: "memory", ExpirationMode: tiercache.ExpireAbsolute, ExpirationTimeout: 0},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate with a timed mode and zero timeout should fail")
	}
}

func TestBuilderProducesValidatedConfig(t *testing.T) {
	cfg, err := tiercache.NewBuilder().
		WithHandle("memory", "l1", tiercache.WithExpiration(tiercache.ExpireSliding, time.Minute)).
		WithHandle("redis", "shared", tiercache.AsBackplaneSource(), tiercache.WithHandleOption("namespace", "app")).
		WithUpdateMode(tiercache.UpdateModeFull).
		WithBackplane("redis-pubsub", "cache-events").
		WithSerializer(codec.JSONCodec[any]{}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cfg.Handles) != 2 {
		t.Fatalf("len(cfg.Handles) = %d, want 2", len(cfg.Handles))
	}
	if cfg.Handles[1].Options["namespace"] != "app" {
		t.Fatalf("handle option not carried through: %+v", cfg.Handles[1].Options)
	}
	if cfg.UpdateMode != tiercache.UpdateModeFull {
		t.Fatalf("UpdateMode = %v, want Full", cfg.UpdateMode)
	}
	if cfg.Serializer == nil {
		t.Fatalf("Serializer not carried through builder")
	}
}

func TestBuilderBuildPropagatesValidationFailure(t *testing.T) {
	_, err := tiercache.NewBuilder().
		WithHandle("memory", "l1").
		WithHandle("memory", "l1").
		Build()
	if err == nil {
		t.Fatalf("Build with duplicate handle names should fail")
	}
}
