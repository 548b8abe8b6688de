package association

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/shadowrelay/shadowrelay/pkg/metrics"
)

// Table indexes live Associations by their client source address string,
// evicting entries idle past ttl. It deliberately runs no background
// sweeper goroutine — expiry is purged only as a side effect of Iter,
// go-cache's janitor is disabled by passing a zero cleanup interval to
// cache.New.
type Table struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

// NewTable builds an empty Table whose entries expire ttl after their last
// Entry lookup or Insert.
func NewTable(ttl time.Duration) *Table {
	return &Table{
		cache: cache.New(ttl, 0),
		ttl:   ttl,
	}
}

// Entry looks up key. On a hit it refreshes the entry's TTL (access
// extends lifetime, mirroring lru_time_cache's read semantics) and
// reports existed=true. On a miss it reports existed=false and the
// caller is expected to construct an Association and call Insert.
func (t *Table) Entry(key string) (assoc *Association, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.cache.Get(key)
	if !ok {
		return nil, false
	}
	a := v.(*Association)
	t.cache.Set(key, a, cache.DefaultExpiration)
	return a, true
}

// Insert adds assoc under key with a fresh TTL. Lookup and insertion are
// meant to be called back-to-back under the caller's own discipline (a
// miss from Entry followed by Insert) so the two together behave as one
// atomic get-or-create from the endpoint's point of view.
func (t *Table) Insert(key string, assoc *Association) {
	t.mu.Lock()
	t.cache.Set(key, assoc, cache.DefaultExpiration)
	count := t.cache.ItemCount()
	t.mu.Unlock()

	metrics.AssociationsCreatedTotal.Inc()
	metrics.AssociationsActive.Set(float64(count))
}

// Iter visits every non-expired entry, calling fn once per live
// Association. As a side effect it purges any entry found to have
// expired — this is the table's only purge mechanism, since the
// background janitor is disabled. Each purged Association is closed so
// its relay goroutines and socket are released rather than leaked.
func (t *Table) Iter(fn func(key string, a *Association)) {
	t.mu.Lock()
	items := t.cache.Items()
	now := time.Now().UnixNano()

	live := make(map[string]*Association, len(items))
	var expired []*Association
	for k, item := range items {
		if item.Expiration > 0 && now > item.Expiration {
			t.cache.Delete(k)
			expired = append(expired, item.Object.(*Association))
			continue
		}
		live[k] = item.Object.(*Association)
	}
	count := t.cache.ItemCount()
	t.mu.Unlock()

	for _, a := range expired {
		a.Close()
	}

	metrics.AssociationsActive.Set(float64(count))

	for k, a := range live {
		fn(k, a)
	}
}

// Remove deletes key unconditionally, closing its Association first so the
// relay goroutines tear down promptly rather than waiting out the TTL.
func (t *Table) Remove(key string) {
	t.mu.Lock()
	v, ok := t.cache.Get(key)
	t.cache.Delete(key)
	count := t.cache.ItemCount()
	t.mu.Unlock()

	metrics.AssociationsActive.Set(float64(count))
	if ok {
		v.(*Association).Close()
	}
}
