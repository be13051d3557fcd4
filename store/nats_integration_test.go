//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tiercache/natsclient"
)

func timeNowPlusHour() time.Time {
	return time.Now().Add(time.Hour)
}

func newTestNATSStore(t *testing.T) *NATSStore {
	t.Helper()

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())

	s, err := NewNATSStore(tc.Client)
	require.NoError(t, err)

	return s
}

func TestNATSStore_Contract(t *testing.T) {
	runStoreContract(t, newTestNATSStore(t))
}

func TestNATSStore_KeyEncoding(t *testing.T) {
	s := newTestNATSStore(t)
	ctx := context.Background()

	// Keys with characters NATS KV rejects must still round-trip
	keys := []string{
		"prompt:user/42",
		"search?q=hello world",
		"weird\tkey\nwith control chars",
	}

	for _, key := range keys {
		entry := &Entry{
			Key:       key,
			Value:     "v",
			Layer:     LayerDistributed,
			Version:   1,
			ExpiresAt: timeNowPlusHour(),
		}
		require.NoError(t, s.PutEntry(ctx, entry))

		got, err := s.GetEntry(ctx, key, 0)
		require.NoError(t, err)
		assert.Equal(t, key, got.Key)
	}

	count, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(keys), count)
}

func TestNATSStore_ConcurrentTagUpdates(t *testing.T) {
	s := newTestNATSStore(t)
	ctx := context.Background()

	// Concurrent joins to the same tag exercise the CAS loop on the
	// forward row
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			assert.NoError(t, s.SetTags(ctx, key, []string{"contended"}))
		}(i)
	}
	wg.Wait()

	keys, err := s.KeysForTag(ctx, "contended")
	require.NoError(t, err)
	assert.Len(t, keys, writers)
}
