// Package tiercache provides a multi-tier caching engine that layers a
// fast in-process cache over a durable NATS JetStream store, with
// scheduled cache warming, performance monitoring, and an operational
// admin surface.
//
// # Architecture
//
// Four components cooperate around one durable store:
//
//	┌─────────────────────────────────────┐
//	│          Admin Facade               │  Invalidation, reports,
//	│   (HTTP + websocket, import/export) │  config, system health
//	└──────┬──────────┬──────────┬────────┘
//	       ↓          ↓          ↓
//	┌──────────┐ ┌─────────┐ ┌─────────┐
//	│  Cache   │ │  Cache  │ │  Cache  │
//	│ Manager  │ │ Warmer  │ │ Monitor │
//	└────┬─────┘ └────┬────┘ └────┬────┘
//	     │            │           │
//	     └────────────┼───────────┘
//	                  ↓
//	┌─────────────────────────────────────┐
//	│         Durable Store               │  NATS JetStream KV
//	│  (entries, tags, warming, history)  │  (or in-memory for tests)
//	└─────────────────────────────────────┘
//
// The cache manager (package cache) serves reads through two tiers:
// a local in-process map checked first, then the durable store. Durable
// hits are promoted into the local tier. Entries carry TTLs, versions,
// and tags, and can be invalidated by exact key, glob pattern, tag, or
// version floor.
//
// The warmer (package warm) executes registered query functions on a
// schedule or on demand and writes the results into the cache before
// requests ask for them. Warming jobs are stored as durable configs so
// they survive restarts.
//
// The monitor (package monitor) samples cache statistics, raises alerts
// when hit rate or latency cross thresholds, and builds historical
// reports from stats snapshots persisted in the store.
//
// The admin facade (package admin) fronts all three with a synchronous
// API, JSON HTTP endpoints, and a live stats websocket.
//
// # Degradation
//
// The local tier keeps serving when the durable store is unreachable.
// Store failures on the read path degrade to cache misses rather than
// errors, and component health reflects the reduced capability through
// package health.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//
//	durable, err := store.NewNATSStore(client)
//	if err != nil {
//	    return err
//	}
//
//	manager, err := cache.NewManager(durable)
//	if err != nil {
//	    return err
//	}
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	defer manager.Stop()
//
//	if err := manager.Set(ctx, "prompt:greeting", value); err != nil {
//	    return err
//	}
//	cached, found := manager.Get(ctx, "prompt:greeting")
//
// The cmd/tiercache binary assembles the full engine from a JSON or
// YAML configuration file.
package tiercache
