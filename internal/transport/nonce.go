package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Nonce guard errors
var (
	ErrNonceMissing = errors.New("nonce missing")
	ErrNonceReplay  = errors.New("nonce already seen")
)

type nonceEntry struct {
	value     string
	expiresAt time.Time
}

// NonceCache remembers seen nonces for a TTL and rejects reuse within it.
// The cache is process-local; cross-node replay protection is out of scope.
type NonceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []nonceEntry
	known   map[string]struct{}
	now     func() time.Time
}

// NewNonceCache creates a nonce cache with the given TTL.
func NewNonceCache(ttl time.Duration) *NonceCache {
	return &NonceCache{
		ttl:   ttl,
		known: make(map[string]struct{}),
		now:   time.Now,
	}
}

// AssertFresh rejects empty or previously seen nonces and records fresh ones
// with an expiry of now + TTL. Expired entries are evicted before each check.
func (c *NonceCache) AssertFresh(nonce string) error {
	if nonce == "" {
		return ErrNonceMissing
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired()
	if _, seen := c.known[nonce]; seen {
		return fmt.Errorf("%w: %q", ErrNonceReplay, nonce)
	}
	c.entries = append(c.entries, nonceEntry{value: nonce, expiresAt: c.now().Add(c.ttl)})
	c.known[nonce] = struct{}{}
	return nil
}

// Len reports the number of live entries, evicting expired ones first.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	return len(c.known)
}

// evictExpired drops entries whose expiry has passed. Entries are appended in
// insertion order and the TTL is constant, so the queue front always expires
// first.
func (c *NonceCache) evictExpired() {
	now := c.now()
	i := 0
	for i < len(c.entries) && !c.entries[i].expiresAt.After(now) {
		delete(c.known, c.entries[i].value)
		i++
	}
	if i > 0 {
		c.entries = append([]nonceEntry(nil), c.entries[i:]...)
	}
}

// BidNonceKey builds the composite replay key for a bid response so the same
// random nonce from distinct actors does not collide.
func BidNonceKey(serveToken, nonce, bidder string) string {
	return serveToken + ":" + nonce + ":" + bidder
}

// EventNonceKey builds the composite replay key for a billing event. The
// discriminator is the first defined of event_id, conversion_id, timestamp.
func EventNonceKey(serveToken, eventType, discriminator string) string {
	return serveToken + ":" + eventType + ":" + discriminator
}
