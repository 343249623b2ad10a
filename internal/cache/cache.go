// Package cache holds recently processed document text in memory, bounded
// by TTL and entry count. Eviction is expiry-only: at capacity the cache
// purges expired entries and then rejects, never evicting live ones.
package cache

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localrag/localrag/internal/log"
)

var (
	// ErrCacheFull means the cache is at capacity with no expired entries
	// left to purge.
	ErrCacheFull = errors.New("document cache full")

	// ErrNotFound covers both missing and expired keys.
	ErrNotFound = errors.New("document not cached")
)

// Config bounds the cache.
type Config struct {
	TTL             time.Duration
	MaxDocuments    int
	CleanupInterval time.Duration
}

// TextStats are cheap derived counts computed once at store time.
type TextStats struct {
	Chars int
	Words int
	Lines int
}

// Entry is one cached document. Returned by value; mutating a returned
// Entry does not affect the cache.
type Entry struct {
	Key            uuid.UUID
	Filename       string
	Text           string
	SizeBytes      int64
	ProcessingTime time.Duration
	Stats          TextStats
	StoredAt       time.Time
	ExpiresAt      time.Time
	LastAccess     time.Time
}

// Stats is the snapshot reported by Cache.Stats.
type Stats struct {
	Count      int
	MemoryMB   float64
	MaxCount   int
	TTLMinutes int
}

// Cache is a TTL- and capacity-bounded in-memory document cache.
//
// The background reaper starts lazily on the first Store and shares the
// cache mutex with every other operation. Stop it with Stop; safe to call
// more than once.
type Cache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	cfg     Config
	logger  log.Logger

	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Cache. Zero-value Config fields get conservative defaults.
func New(cfg Config, logger log.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = 100
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Cache{
		entries: make(map[uuid.UUID]*Entry),
		cfg:     cfg,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Store caches one document and returns its key. At capacity it purges
// expired entries first and fails with ErrCacheFull if none could be freed.
func (c *Cache) Store(text, filename string, sizeBytes int64, processingTime time.Duration) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(time.Now())
	if len(c.entries) >= c.cfg.MaxDocuments {
		return uuid.Nil, ErrCacheFull
	}

	now := time.Now()
	key := uuid.New()
	c.entries[key] = &Entry{
		Key:            key,
		Filename:       filename,
		Text:           text,
		SizeBytes:      sizeBytes,
		ProcessingTime: processingTime,
		Stats:          computeStats(text),
		StoredAt:       now,
		ExpiresAt:      now.Add(c.cfg.TTL),
		LastAccess:     now,
	}
	c.startReaperLocked()
	return key, nil
}

// Get returns a cached document and records the access time. The expiry
// deadline is fixed at store time and never extended. Expired entries are
// removed on access; both missing and expired keys yield ErrNotFound.
func (c *Cache) Get(key uuid.UUID) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	now := time.Now()
	if c.expiredLocked(e, now) {
		delete(c.entries, key)
		return Entry{}, ErrNotFound
	}
	e.LastAccess = now
	return *e, nil
}

// Remove deletes a key and reports whether it was present.
func (c *Cache) Remove(key uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// List returns the live entries, newest first.
func (c *Cache) List() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(time.Now())
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StoredAt.After(out[j].StoredAt)
	})
	return out
}

// Stats reports current occupancy and configuration.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(time.Now())
	var bytes int64
	for _, e := range c.entries {
		bytes += int64(len(e.Text))
	}
	return Stats{
		Count:      len(c.entries),
		MemoryMB:   float64(bytes) / (1024 * 1024),
		MaxCount:   c.cfg.MaxDocuments,
		TTLMinutes: int(c.cfg.TTL.Minutes()),
	}
}

// Stop terminates the background reaper and waits for it to exit.
// Idempotent; a cache that never stored anything has nothing to stop.
func (c *Cache) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	select {
	case <-c.stop:
		// already stopping
	default:
		close(c.stop)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Cache) startReaperLocked() {
	if c.started {
		return
	}
	c.started = true
	go c.reap()
}

func (c *Cache) reap() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			removed := c.purgeLocked(now)
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("cache cleanup", "removed", removed)
			}
		}
	}
}

func (c *Cache) expiredLocked(e *Entry, now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (c *Cache) purgeLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if c.expiredLocked(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func computeStats(text string) TextStats {
	stats := TextStats{Chars: len([]rune(text))}
	stats.Words = len(strings.Fields(text))
	if text != "" {
		stats.Lines = strings.Count(text, "\n") + 1
	}
	return stats
}
