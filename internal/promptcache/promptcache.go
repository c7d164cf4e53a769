// Package promptcache implements the Prompt Cache (C3): content-addressed
// attribution of (system, tools) reuse across requests, feeding the
// cache_creation_input_tokens / cache_read_input_tokens usage fields.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultTTL           = time.Hour
	defaultSweepInterval = 10 * time.Minute
)

// Entry is one prompt cache record (spec.md §3).
type Entry struct {
	Fingerprint     string
	FirstSeen       time.Time
	LastAccess      time.Time
	HitCount        int64
	EstimatedTokens int64
}

// AccessResult is what RecordAccess reports back to the caller (spec.md
// §4.3).
type AccessResult struct {
	Hit             bool
	FirstSeen       bool
	EstimatedTokens int64
}

// Cache is the shared, process-wide prompt cache. The zero value is not
// usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry

	ttl        time.Duration
	softCap    int
	cronRunner *cron.Cron
	logger     *logrus.Entry
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithTTL overrides the default one-hour eviction TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithSoftCap bounds the number of entries kept; once exceeded, the
// least-recently-accessed entries are evicted first, on the next insert
// or the next periodic sweep.
// Zero (the default) means no cap.
func WithSoftCap(n int) Option {
	return func(c *Cache) { c.softCap = n }
}

// WithLogger attaches a logger; a no-op discard logger is used otherwise.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Cache) { c.logger = l }
}

// New constructs a Cache. A dedicated robfig/cron goroutine performs
// periodic eviction every sweepInterval (the ten-minute default when
// sweepInterval is zero or negative) in addition to the lazy,
// access-triggered sweep (spec.md §4.3: "a timer thread is acceptable if
// it shares the lock correctly").
func New(sweepInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*Entry),
		ttl:     defaultTTL,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	c.cronRunner = cron.New(cron.WithSeconds())
	spec := "@every " + sweepInterval.String()
	if _, err := c.cronRunner.AddFunc(spec, c.sweep); err != nil {
		c.logger.Errorf("failed to schedule prompt cache sweep: %v", err)
	} else {
		c.cronRunner.Start()
	}
	return c
}

// Close stops the dedicated sweep goroutine, if one was started.
func (c *Cache) Close() {
	if c.cronRunner != nil {
		c.cronRunner.Stop()
	}
}

// Fingerprint computes the SHA-256 digest of the canonical serialization of
// (system, tools) (spec.md §3, §4.3). The same payload always produces the
// same hex digest.
func Fingerprint(payload any) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON round-trips through map[string]any (or []any for arrays)
// so that encoding/json's key-sorting on Marshal produces a deterministic
// byte sequence regardless of how the caller's struct fields were ordered.
func canonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// RecordAccess implements spec.md §4.3's recordAccess operation under a
// single lock: an existing entry's last-access and hit-count are updated
// (hit=true); a missing one is inserted (firstSeen=true). Two concurrent
// callers for the same fingerprint can never both observe firstSeen=true.
func (c *Cache) RecordAccess(fingerprint string, estimatedTokens int64) AccessResult {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fingerprint]; ok && !c.expired(e, now) {
		e.LastAccess = now
		e.HitCount++
		return AccessResult{Hit: true, EstimatedTokens: e.EstimatedTokens}
	}

	c.entries[fingerprint] = &Entry{
		Fingerprint:     fingerprint,
		FirstSeen:       now,
		LastAccess:      now,
		HitCount:        0,
		EstimatedTokens: estimatedTokens,
	}
	c.evictLocked(now)
	return AccessResult{Hit: false, FirstSeen: true, EstimatedTokens: estimatedTokens}
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.LastAccess) > c.ttl
}

// evictLocked performs the lazy, access-triggered half of eviction: expired
// entries are dropped, then the soft cap (if any) is enforced by dropping
// the least-recently-accessed survivors. Must be called with mu held.
func (c *Cache) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
		}
	}
	if c.softCap <= 0 || len(c.entries) <= c.softCap {
		return
	}
	type kv struct {
		key        string
		lastAccess time.Time
	}
	ordered := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, kv{k, e.LastAccess})
	}
	// Simple selection of the oldest entries to trim, one linear scan per
	// evicted entry; the cache size in practice stays small enough that
	// this needs no sort.
	for len(ordered) > c.softCap {
		oldestIdx := 0
		for i := range ordered {
			if ordered[i].lastAccess.Before(ordered[oldestIdx].lastAccess) {
				oldestIdx = i
			}
		}
		delete(c.entries, ordered[oldestIdx].key)
		ordered[oldestIdx] = ordered[len(ordered)-1]
		ordered = ordered[:len(ordered)-1]
	}
}

// sweep is the dedicated-goroutine half of eviction, run periodically by
// the cron scheduler.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.evictLocked(now)
	if evicted := before - len(c.entries); evicted > 0 {
		c.logger.Debugf("prompt cache sweep evicted %d entries", evicted)
	}
}

// EstimateTokens implements the spec's character-count/4 heuristic
// (spec.md §4.3, and explicitly not a real tokenizer per spec.md §9).
func EstimateTokens(s string) int64 {
	return int64(len(s) / 4)
}
