package cache

import (
	"regexp"
	"sync"
	"time"

	"github.com/c360/tiercache/store"
)

// localTier is the in-process cache tier: an ordinary map under a
// read-write mutex. It is ephemeral and rebuilt lazily from the durable
// store on miss.
type localTier struct {
	mu    sync.RWMutex
	items map[string]*store.Entry
}

func newLocalTier() *localTier {
	return &localTier{items: make(map[string]*store.Entry)}
}

// get returns the entry if present, unexpired at now, and matching the
// version filter (0 matches any). Expired entries are removed on the way.
func (l *localTier) get(key string, version int, now time.Time) (*store.Entry, bool) {
	l.mu.RLock()
	entry, ok := l.items[key]
	l.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if entry.Expired(now) {
		l.mu.Lock()
		// Re-check under the write lock; a Set may have replaced it
		if current, still := l.items[key]; still && current.Expired(now) {
			delete(l.items, key)
		}
		l.mu.Unlock()
		return nil, false
	}

	if version > 0 && entry.Version != version {
		return nil, false
	}

	return entry, true
}

// set stores an entry, replacing any previous one for the key
func (l *localTier) set(entry *store.Entry) {
	l.mu.Lock()
	l.items[entry.Key] = entry
	l.mu.Unlock()
}

// delete removes a key; reports whether it was present
func (l *localTier) delete(key string) bool {
	l.mu.Lock()
	_, ok := l.items[key]
	delete(l.items, key)
	l.mu.Unlock()
	return ok
}

// deleteMatching removes all keys matching the compiled pattern
func (l *localTier) deleteMatching(re *regexp.Regexp) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for key := range l.items {
		if re.MatchString(key) {
			delete(l.items, key)
			count++
		}
	}
	return count
}

// deleteBelowVersion removes the key if its version is below minVersion
func (l *localTier) deleteBelowVersion(key string, minVersion int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.items[key]
	if !ok || entry.Version >= minVersion {
		return false
	}
	delete(l.items, key)
	return true
}

// flush empties the tier and returns the number of entries removed
func (l *localTier) flush() int {
	l.mu.Lock()
	count := len(l.items)
	l.items = make(map[string]*store.Entry)
	l.mu.Unlock()
	return count
}

// removeExpired sweeps entries expired at now
func (l *localTier) removeExpired(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for key, entry := range l.items {
		if entry.Expired(now) {
			delete(l.items, key)
			count++
		}
	}
	return count
}

// touch extends the entry's expiry; reports whether the key was present
func (l *localTier) touch(key string, expiresAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.items[key]
	if !ok {
		return false
	}

	updated := entry.Clone()
	updated.ExpiresAt = expiresAt
	l.items[key] = updated
	return true
}

// size returns the number of entries, including not-yet-swept expired ones
func (l *localTier) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// peek returns the entry regardless of expiry, for inspection
func (l *localTier) peek(key string) (*store.Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.items[key]
	return entry, ok
}
