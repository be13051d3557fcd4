package cache

import "time"

// Clock abstracts time for TTL decisions so tests can control expiry
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return realClock{} }
