package dispatch

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultRetention is how long an address is remembered after it was last seen.
const DefaultRetention = time.Hour

// Recent remembers when each source address was last handled.  Entries are
// only dropped by Sweep, so the owner decides when eviction work happens.
// Touch and Sweep are serialized so a sweep never drops an entry refreshed
// while it runs.
type Recent struct {
	mu        sync.Mutex
	c         *cache.Cache
	retention time.Duration
}

// NewRecent creates a Recent that keeps entries for retention.
func NewRecent(retention time.Duration) *Recent {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recent{
		// no janitor; Sweep does the eviction.
		c:         cache.New(cache.NoExpiration, 0),
		retention: retention,
	}
}

// Touch records ip as seen at at.
func (r *Recent) Touch(ip string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.Set(ip, at, cache.NoExpiration)
}

// Seen returns when ip was last touched.
func (r *Recent) Seen(ip string) (time.Time, bool) {
	v, ok := r.c.Get(ip)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len is the number of addresses currently remembered.
func (r *Recent) Len() int { return r.c.ItemCount() }

// Sweep drops every entry at least one retention window older than now and
// returns how many were dropped.
func (r *Recent) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for ip, item := range r.c.Items() {
		if at, ok := item.Object.(time.Time); ok && now.Sub(at) < r.retention {
			continue
		}
		r.c.Delete(ip)
		n++
	}
	return n
}
