// Package cache keeps recently fetched terminal jobs in memory. Polling
// clients hit GET /scans/{id} until the job finishes; once a job is
// terminal it never changes, so serving it from memory spares the store.
package cache

import (
	"sync"
	"time"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

// cleanupInterval is how often expired entries are swept out.
const cleanupInterval = time.Minute

// entry holds a cached job with its insertion timestamp.
type entry struct {
	job     *models.Job
	addedAt time.Time
}

// Cache is an in-memory TTL cache for terminal jobs. Safe for concurrent
// use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	done       chan struct{}
}

// New creates a cache and starts its sweep goroutine. Call Stop on
// shutdown.
func New(cfg config.CacheConfig) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached job if present and younger than the TTL.
func (c *Cache) Get(id string) (*models.Job, bool) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(e.addedAt) > c.ttl {
		return nil, false
	}
	return e.job, true
}

// Put stores a job. Non-terminal jobs are ignored: their status is still
// changing and a stale pending row would mask completion from pollers.
// At capacity a random entry is evicted to make room.
func (c *Cache) Put(job *models.Job) {
	if job == nil || !job.Status.Terminal() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Map iteration order is random in Go, so this evicts an arbitrary entry.
	if len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[job.ID] = &entry{
		job:     job,
		addedAt: time.Now(),
	}
}

// Stop ends the sweep goroutine.
func (c *Cache) Stop() {
	close(c.done)
}

// cleanupLoop evicts entries older than the TTL once a minute.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.ttl)
			c.mu.Lock()
			for k, e := range c.store {
				if e.addedAt.Before(cutoff) {
					delete(c.store, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
