// Package cache puts a time-to-live cache in front of the portal login and
// download so the five-step login runs at most once per TTL and never twice
// at the same time for the same account.
package cache

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tejusbharadwaj/esbmeter/internal/metrics"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

const (
	DefaultTTL            = 5 * time.Minute
	DefaultRefreshTimeout = 2 * time.Minute
)

// Source loads every reading of an account from scratch.
type Source interface {
	Load(ctx context.Context, creds models.Credentials) ([]models.Reading, error)
}

type entry struct {
	readings  []models.Reading
	fetchedAt time.Time
}

// GuardedCache caches the readings of one account.
type GuardedCache struct {
	creds          models.Credentials
	source         Source
	ttl            time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *logrus.Logger

	// flight coalesces refreshes by Credentials.Key. It may be shared by
	// several caches.
	flight *singleflight.Group

	mu    sync.RWMutex
	entry *entry
}

// Option configures a GuardedCache.
type Option func(*GuardedCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *GuardedCache) { c.ttl = ttl }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *GuardedCache) { c.refreshTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *GuardedCache) { c.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *GuardedCache) { c.logger = logger }
}

// WithGroup shares the refresh coalescing group with other caches.
func WithGroup(g *singleflight.Group) Option {
	return func(c *GuardedCache) { c.flight = g }
}

// New creates a cache bound to creds for its whole life.
func New(creds models.Credentials, source Source, opts ...Option) *GuardedCache {
	c := &GuardedCache{
		creds:          creds,
		source:         source,
		ttl:            DefaultTTL,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.flight == nil {
		c.flight = &singleflight.Group{}
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	return c
}

// Credentials returns the account the cache is bound to.
func (c *GuardedCache) Credentials() models.Credentials {
	return c.creds
}

// Fetch returns the cached readings while they are younger than the TTL and
// refreshes them otherwise. Concurrent callers share one refresh and all see
// its outcome. A failed refresh empties the cache so the next call starts
// over. The returned slice is shared between callers and must not be modified.
//
// The refresh itself is not cancelled with ctx; a caller whose ctx ends stops
// waiting and gets ctx.Err().
func (c *GuardedCache) Fetch(ctx context.Context) ([]models.Reading, error) {
	if e := c.fresh(); e != nil {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return e.readings, nil
	}

	refreshCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(c.creds.Key(), func() (interface{}, error) {
		return c.refresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.CacheLookups.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		e := res.Val.(*entry)
		if res.Shared {
			metrics.CacheLookups.WithLabelValues("shared").Inc()
			c.adopt(e)
		} else {
			metrics.CacheLookups.WithLabelValues("refresh").Inc()
		}
		return e.readings, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// adopt keeps an entry loaded by another cache of the same account.
func (c *GuardedCache) adopt(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil || c.entry.fetchedAt.Before(e.fetchedAt) {
		c.entry = e
	}
}

// FetchedAt returns when the cached readings were loaded, or the zero time
// when the cache is empty.
func (c *GuardedCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return time.Time{}
	}
	return c.entry.fetchedAt
}

// Peek returns the cached readings and their fetch time while they are
// younger than the TTL. It never starts a refresh.
func (c *GuardedCache) Peek() ([]models.Reading, time.Time, bool) {
	e := c.fresh()
	if e == nil {
		return nil, time.Time{}, false
	}
	return e.readings, e.fetchedAt, true
}

// Invalidate drops the cached readings.
func (c *GuardedCache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

func (c *GuardedCache) fresh() *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil || c.now().Sub(c.entry.fetchedAt) >= c.ttl {
		return nil
	}
	return c.entry
}

// refresh runs inside the flight, so at most one runs per account key.
func (c *GuardedCache) refresh(ctx context.Context) (*entry, error) {
	// A refresh that finished just before this flight started is good enough.
	if e := c.fresh(); e != nil {
		return e, nil
	}

	log := c.logger.WithField("mprn", c.creds.MPRN)
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	start := c.now()
	readings, err := c.source.Load(ctx, c.creds)
	if err != nil {
		c.Invalidate()
		log.WithError(err).Error("Error fetching data")
		return nil, err
	}
	if readings == nil {
		readings = []models.Reading{}
	}

	e := &entry{readings: readings, fetchedAt: c.now()}
	c.mu.Lock()
	c.entry = e
	c.mu.Unlock()

	metrics.LastRefresh.WithLabelValues(c.creds.MPRN).Set(float64(e.fetchedAt.Unix()))
	log.WithFields(logrus.Fields{
		"readings": len(readings),
		"duration": e.fetchedAt.Sub(start),
	}).Info("Refreshed meter readings")
	return e, nil
}
