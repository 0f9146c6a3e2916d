package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

func testCache(t *testing.T, maxEntries int, ttl time.Duration) *Cache {
	t.Helper()
	c := New(config.CacheConfig{MaxEntries: maxEntries, TTL: ttl})
	t.Cleanup(c.Stop)
	return c
}

func terminalJob(id string) *models.Job {
	return &models.Job{ID: id, Status: models.StatusComplete}
}

func TestCache_PutAndGet(t *testing.T) {
	c := testCache(t, 10, time.Minute)

	c.Put(terminalJob("job-1"))

	got, ok := c.Get("job-1")
	if !ok {
		t.Fatal("cache miss for stored job")
	}
	if got.ID != "job-1" {
		t.Errorf("got job %q", got.ID)
	}
}

func TestCache_MissForUnknownID(t *testing.T) {
	c := testCache(t, 10, time.Minute)

	if _, ok := c.Get("nope"); ok {
		t.Error("hit for a job never stored")
	}
}

func TestCache_IgnoresPendingJobs(t *testing.T) {
	c := testCache(t, 10, time.Minute)

	c.Put(&models.Job{ID: "job-1", Status: models.StatusPending})
	if _, ok := c.Get("job-1"); ok {
		t.Error("pending job was cached")
	}

	c.Put(nil)
}

func TestCache_ErrorJobsAreCacheable(t *testing.T) {
	c := testCache(t, 10, time.Minute)

	c.Put(&models.Job{ID: "job-1", Status: models.StatusError, ErrorCode: models.ErrCodeNavTimeout})
	if _, ok := c.Get("job-1"); !ok {
		t.Error("terminal error job was not cached")
	}
}

func TestCache_ExpiredEntryMisses(t *testing.T) {
	c := testCache(t, 10, 10*time.Millisecond)

	c.Put(terminalJob("job-1"))
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("job-1"); ok {
		t.Error("expired entry served")
	}
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	c := testCache(t, 3, time.Minute)

	for i := 0; i < 5; i++ {
		c.Put(terminalJob(fmt.Sprintf("job-%d", i)))
	}

	c.mu.RLock()
	size := len(c.store)
	c.mu.RUnlock()
	if size > 3 {
		t.Errorf("cache grew to %d entries, cap is 3", size)
	}

	// The most recent insert always survives the eviction that made room
	// for it.
	if _, ok := c.Get("job-4"); !ok {
		t.Error("latest entry was evicted")
	}
}
