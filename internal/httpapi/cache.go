package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// readCache is a small TTL cache for hot GET responses, keyed by request
// path and query. Entries are stored per principal so one user's view is
// never served to another. Mutations purge the whole cache; correctness
// beats retention at this size.
type readCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	body    []byte
	expires time.Time
}

func newReadCache(ttl time.Duration) *readCache {
	return &readCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *readCache) get(key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

func (c *readCache) set(key string, body []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{body: body, expires: c.now().Add(c.ttl)}
}

func (c *readCache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// bypassCache honors an explicit client opt-out.
func bypassCache(r *http.Request) bool {
	cc := r.Header.Get("Cache-Control")
	return strings.Contains(strings.ToLower(cc), "no-cache")
}

// cacheKey scopes entries to the requesting principal.
func cacheKey(r *http.Request, principalID int64) string {
	return strings.Join([]string{
		"p", strconv.FormatInt(principalID, 10), r.URL.Path, r.URL.RawQuery,
	}, "|")
}
