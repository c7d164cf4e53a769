package promptcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	payload := map[string]any{"tools": []string{"a", "b"}, "system": "hello"}
	f1, err := Fingerprint(payload)
	require.NoError(t, err)
	f2, err := Fingerprint(payload)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
}

func TestFingerprint_OrderIndependentKeys(t *testing.T) {
	a := map[string]any{"system": "s", "tools": "t"}
	b := map[string]any{"tools": "t", "system": "s"}
	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFingerprint_DifferentPayloadsDiffer(t *testing.T) {
	fa, err := Fingerprint(map[string]any{"system": "s1"})
	require.NoError(t, err)
	fb, err := Fingerprint(map[string]any{"system": "s2"})
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestRecordAccess_FirstSeenThenHit(t *testing.T) {
	c := New(time.Hour)
	defer c.Close()

	first := c.RecordAccess("abc", 100)
	assert.True(t, first.FirstSeen)
	assert.False(t, first.Hit)

	second := c.RecordAccess("abc", 100)
	assert.True(t, second.Hit)
	assert.False(t, second.FirstSeen)
	assert.EqualValues(t, 100, second.EstimatedTokens)
}

func TestRecordAccess_ExactlyOneFirstSeenUnderConcurrency(t *testing.T) {
	c := New(time.Hour)
	defer c.Close()

	const n = 200
	results := make([]AccessResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = c.RecordAccess("shared", 10)
		}()
	}
	wg.Wait()

	firstSeenCount := 0
	for _, r := range results {
		if r.FirstSeen {
			firstSeenCount++
		}
	}
	assert.Equal(t, 1, firstSeenCount)
}

func TestRecordAccess_TTLExpiryTreatsAsFirstSeenAgain(t *testing.T) {
	c := New(time.Hour, WithTTL(10*time.Millisecond))
	defer c.Close()

	first := c.RecordAccess("expiring", 5)
	assert.True(t, first.FirstSeen)

	time.Sleep(20 * time.Millisecond)

	again := c.RecordAccess("expiring", 5)
	assert.True(t, again.FirstSeen, "entry older than TTL should be treated as evicted")
}

func TestSoftCap_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := New(time.Hour, WithSoftCap(2))
	defer c.Close()

	c.RecordAccess("a", 1)
	time.Sleep(time.Millisecond)
	c.RecordAccess("b", 1)
	time.Sleep(time.Millisecond)
	c.RecordAccess("c", 1) // should evict "a"

	c.mu.Lock()
	_, hasA := c.entries["a"]
	_, hasC := c.entries["c"]
	c.mu.Unlock()

	assert.False(t, hasA)
	assert.True(t, hasC)
}

func TestEstimateTokens(t *testing.T) {
	assert.EqualValues(t, 0, EstimateTokens(""))
	assert.EqualValues(t, 1, EstimateTokens("abcd"))
	assert.EqualValues(t, 2, EstimateTokens("abcdefgh"))
}
