package browser

import (
	"sync"
	"time"
)

// challengeEntry marks a host that recently served a bot interstitial.
type challengeEntry struct {
	expiresAt time.Time
}

// ChallengeMemory remembers which hosts challenged us recently. Sessions
// for those hosts settle longer before the page is read, which lets
// short-lived interstitials clear on their own. Entries expire after the
// TTL and are pruned periodically.
type ChallengeMemory struct {
	store sync.Map // host (string) -> *challengeEntry
	ttl   time.Duration
	done  chan struct{}
}

// NewChallengeMemory creates a ChallengeMemory with the given TTL and
// starts a background goroutine that prunes expired entries.
func NewChallengeMemory(ttl time.Duration) *ChallengeMemory {
	cm := &ChallengeMemory{
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go cm.cleanupLoop()
	return cm
}

// Challenged reports whether host served a challenge within the TTL.
func (cm *ChallengeMemory) Challenged(host string) bool {
	val, ok := cm.store.Load(host)
	if !ok {
		return false
	}
	entry := val.(*challengeEntry)
	if time.Now().After(entry.expiresAt) {
		cm.store.Delete(host)
		return false
	}
	return true
}

// Mark records that host served a challenge just now.
func (cm *ChallengeMemory) Mark(host string) {
	cm.store.Store(host, &challengeEntry{
		expiresAt: time.Now().Add(cm.ttl),
	})
}

// Forget removes the memory for a host (e.g. after a clean scan).
func (cm *ChallengeMemory) Forget(host string) {
	cm.store.Delete(host)
}

// Stop terminates the background cleanup goroutine.
func (cm *ChallengeMemory) Stop() {
	close(cm.done)
}

// cleanupLoop runs every ten minutes, deleting expired entries.
func (cm *ChallengeMemory) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-cm.done:
			return
		case <-ticker.C:
			now := time.Now()
			cm.store.Range(func(key, value any) bool {
				entry := value.(*challengeEntry)
				if now.After(entry.expiresAt) {
					cm.store.Delete(key)
				}
				return true
			})
		}
	}
}
