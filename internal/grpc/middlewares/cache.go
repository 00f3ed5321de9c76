package middleware

// Responses are kept in memory for a short time. Usage totals only move when
// the meter cache refreshes, so a burst of identical requests is answered
// without recomputing them.

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

type cachedResponse struct {
	resp    interface{}
	expires time.Time
}

// ResponseCache is an LRU of successful responses with a time-to-live.
type ResponseCache struct {
	ttl     time.Duration
	now     func() time.Time
	methods map[string]bool
	mu      sync.Mutex
	cache   *lru.Cache
}

// NewResponseCache creates a cache holding at most size responses. When
// methods are given, only those are cached.
func NewResponseCache(size int, ttl time.Duration, methods ...string) (*ResponseCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	c := &ResponseCache{ttl: ttl, now: time.Now, cache: cache}
	if len(methods) > 0 {
		c.methods = make(map[string]bool, len(methods))
		for _, m := range methods {
			c.methods[m] = true
		}
	}
	return c, nil
}

// Interceptor caches successful responses by method and request.
func (c *ResponseCache) Interceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if c.methods != nil && !c.methods[info.FullMethod] {
		return handler(ctx, req)
	}
	key, ok := generateCacheKey(info.FullMethod, req)
	if !ok {
		return handler(ctx, req)
	}

	if resp, hit := c.get(key); hit {
		return resp, nil
	}

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(key, cachedResponse{resp: resp, expires: c.now().Add(c.ttl)})
	c.mu.Unlock()
	return resp, nil
}

func (c *ResponseCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(cachedResponse)
	if !c.now().Before(entry.expires) {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.resp, true
}

// generateCacheKey serialises proto requests deterministically. Other
// request types are not cached.
func generateCacheKey(method string, req interface{}) (string, bool) {
	msg, ok := req.(proto.Message)
	if !ok {
		return "", false
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s:%x", method, b), true
}
