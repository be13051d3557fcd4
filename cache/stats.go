package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache performance counters. Counters are cumulative
// for the process lifetime; periodic snapshots capture point-in-time
// totals without resetting anything.
type Statistics struct {
	hits          int64
	misses        int64
	sets          int64
	deletes       int64
	invalidations int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	avgLatency  time.Duration // EWMA over observed operations
	latencySeen bool
	hitsByKey   map[string]int64
}

// ewmaWeight is the smoothing factor for the response-time average
const ewmaWeight = 0.2

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
		hitsByKey: make(map[string]int64),
	}
}

// Hit records a cache hit for the given key
func (s *Statistics) Hit(key string) {
	atomic.AddInt64(&s.hits, 1)

	s.mu.Lock()
	s.hitsByKey[key]++
	s.mu.Unlock()
}

// Miss records a cache miss
func (s *Statistics) Miss() {
	atomic.AddInt64(&s.misses, 1)
}

// Set records a set operation
func (s *Statistics) Set() {
	atomic.AddInt64(&s.sets, 1)
}

// Delete records a delete operation
func (s *Statistics) Delete() {
	atomic.AddInt64(&s.deletes, 1)
}

// Invalidation records a bulk invalidation operation
func (s *Statistics) Invalidation() {
	atomic.AddInt64(&s.invalidations, 1)
}

// UpdateSize records the current local tier size
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	s.mu.Unlock()
}

// RecordLatency folds one observed operation duration into the moving average
func (s *Statistics) RecordLatency(d time.Duration) {
	s.mu.Lock()
	if !s.latencySeen {
		s.avgLatency = d
		s.latencySeen = true
	} else {
		s.avgLatency = time.Duration(float64(s.avgLatency)*(1-ewmaWeight) + float64(d)*ewmaWeight)
	}
	s.mu.Unlock()
}

// Hits returns the total number of cache hits
func (s *Statistics) Hits() int64 {
	return atomic.LoadInt64(&s.hits)
}

// Misses returns the total number of cache misses
func (s *Statistics) Misses() int64 {
	return atomic.LoadInt64(&s.misses)
}

// Sets returns the total number of set operations
func (s *Statistics) Sets() int64 {
	return atomic.LoadInt64(&s.sets)
}

// Deletes returns the total number of delete operations
func (s *Statistics) Deletes() int64 {
	return atomic.LoadInt64(&s.deletes)
}

// Invalidations returns the total number of invalidation operations
func (s *Statistics) Invalidations() int64 {
	return atomic.LoadInt64(&s.invalidations)
}

// CurrentSize returns the last recorded local tier size
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// AvgLatency returns the moving average operation latency
func (s *Statistics) AvgLatency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avgLatency
}

// HitRate returns hits / (hits + misses) as a percentage, 0 when no
// requests have been observed
func (s *Statistics) HitRate() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Uptime returns how long the statistics have been collected
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// KeyHits is one row of the top-keys ranking
type KeyHits struct {
	Key  string `json:"key"`
	Hits int64  `json:"hits"`
}

// TopKeys returns the n most-hit keys, most hits first
func (s *Statistics) TopKeys(n int) []KeyHits {
	s.mu.RLock()
	ranked := make([]KeyHits, 0, len(s.hitsByKey))
	for key, hits := range s.hitsByKey {
		ranked = append(ranked, KeyHits{Key: key, Hits: hits})
	}
	s.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Hits != ranked[j].Hits {
			return ranked[i].Hits > ranked[j].Hits
		}
		return ranked[i].Key < ranked[j].Key
	})

	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
