// Package health provides health status reporting for the caching engine's
// components and an aggregating monitor for the system as a whole.
//
// # Status Model
//
// Three states are reported:
//
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality (for example
//     the cache manager serving from the local tier while the durable store
//     is unreachable)
//   - Unhealthy: component not functioning
//
// Status objects are small value types. Methods like WithMetrics and
// WithSubStatus return copies, so a Status can be shared without locks.
//
// # Producing Status
//
// Components expose a Health() method built from the helpers:
//
//	func (w *Warmer) Health() health.Status {
//	    if !w.running() {
//	        return health.NewDegraded("warmer", "scheduler not running")
//	    }
//	    return health.NewHealthy("warmer", "scheduler running").
//	        WithMetrics(&health.Metrics{Uptime: time.Since(w.startedAt)})
//	}
//
// FromError derives a status from a component's last error, classifying
// transient failures as degraded and sanitizing the message so URLs, file
// paths, addresses, and credentials never reach a health endpoint.
//
// # Aggregation
//
// Monitor collects per-component statuses and aggregates them: any
// unhealthy sub-status makes the system unhealthy; otherwise any degraded
// sub-status makes it degraded. The admin facade serves the aggregate on
// its health endpoint.
//
//	monitor := health.NewMonitor()
//	monitor.Update("cache", manager.Health())
//	monitor.Update("warmer", warmer.Health())
//	system := monitor.AggregateHealth("tiercache")
package health
