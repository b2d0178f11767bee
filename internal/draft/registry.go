// internal/draft/registry.go
package draft

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Registry keeps one draft per user. Idle drafts expire after the TTL
// given to NewRegistry. Calls for one user are serialised; different users
// never wait on each other.
type Registry struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	drafts *cache.Cache
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := ttl * 2
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &Registry{
		locks:  make(map[string]*sync.Mutex),
		drafts: cache.New(ttl, cleanup),
	}
}

// lock returns the user's mutex, locked.
func (r *Registry) lock(userID string) *sync.Mutex {
	r.mu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l
}

// Update runs fn against the user's draft, creating an empty one if needed,
// and refreshes its expiry.
func (r *Registry) Update(userID string, fn func(*Draft) error) error {
	l := r.lock(userID)
	defer l.Unlock()

	d := r.get(userID)
	err := fn(d)
	r.drafts.SetDefault(userID, d)
	return err
}

// View returns a snapshot of the user's draft without creating one.
func (r *Registry) View(userID string) Snapshot {
	l := r.lock(userID)
	defer l.Unlock()

	if v, ok := r.drafts.Get(userID); ok {
		return v.(*Draft).Snapshot()
	}
	return New().Snapshot()
}

// Discard drops the user's draft.
func (r *Registry) Discard(userID string) {
	l := r.lock(userID)
	defer l.Unlock()
	r.drafts.Delete(userID)
}

func (r *Registry) get(userID string) *Draft {
	if v, ok := r.drafts.Get(userID); ok {
		return v.(*Draft)
	}
	return New()
}
