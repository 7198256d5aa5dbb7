// Package tiercache implements a multi-tier cache manager that composes
// independent backing stores ("handles") — ordered from fastest/local to
// slowest/shared — into one logical cache with coherent reads, writes,
// expiration, and optimistic-update semantics.
//
// Components:
//   - Handle[V]: the uniform contract every backing store implements
//     (handle/memory, handle/ristretto, handle/bigcache, handle/redis).
//   - Backplane: the out-of-band pub/sub channel that keeps in-process
//     tiers on multiple nodes coherent with a shared distributed tier
//     (backplane/local, backplane/redispubsub).
//   - Manager[V]: routes Add/Put/Get/Remove/Update/Expire/Clear/ClearRegion
//     across the ordered handles and wires backplane events.
//
// A read walks handles in declared order; the first hit is promoted
// ("added back") into every faster tier, unless the update mode is None.
// A write goes through every handle and publishes a backplane message so
// peer nodes invalidate their local tiers.
//
//	cfg, _ := tiercache.NewBuilder().
//	    WithHandle("memory", "l1").
//	    WithHandle("redis", "l2", tiercache.AsBackplaneSource()).
//	    WithUpdateMode(tiercache.UpdateModeUp).
//	    WithBackplane("redispubsub", "myapp:cache").
//	    Build()
//	mgr, _ := registry.Build(cfg, nil, nil)
package tiercache
