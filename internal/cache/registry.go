package cache

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

// ErrUnknownMeter is returned for an MPRN that is not configured.
var ErrUnknownMeter = errors.New("unknown meter")

// Registry hands out the GuardedCache of each configured account. All caches
// share one coalescing group, so two caches for the same account never
// refresh at the same time.
type Registry struct {
	accounts map[string]models.Credentials
	order    []string
	source   Source
	opts     []Option

	mu     sync.Mutex
	caches *lru.Cache
	group  singleflight.Group
}

// NewRegistry creates a registry for accounts. MPRNs must be unique and size
// must hold every account; an evicted cache would log in again within its TTL.
func NewRegistry(size int, source Source, accounts []models.Credentials, opts ...Option) (*Registry, error) {
	if size < len(accounts) {
		return nil, fmt.Errorf("cache size %d is smaller than the %d configured meters", size, len(accounts))
	}
	caches, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		accounts: make(map[string]models.Credentials, len(accounts)),
		source:   source,
		caches:   caches,
	}
	for _, acc := range accounts {
		if _, dup := r.accounts[acc.MPRN]; dup {
			return nil, fmt.Errorf("duplicate meter %s", acc.MPRN)
		}
		r.accounts[acc.MPRN] = acc
		r.order = append(r.order, acc.MPRN)
	}
	r.opts = append(append([]Option{}, opts...), WithGroup(&r.group))
	return r, nil
}

// Get returns the cache of mprn.
func (r *Registry) Get(mprn string) (*GuardedCache, error) {
	creds, ok := r.accounts[mprn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMeter, mprn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches.Get(mprn); ok {
		return c.(*GuardedCache), nil
	}
	c := New(creds, r.source, r.opts...)
	r.caches.Add(mprn, c)
	return c, nil
}

// MPRNs lists the configured meters in configuration order.
func (r *Registry) MPRNs() []string {
	return append([]string(nil), r.order...)
}
