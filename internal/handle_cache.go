package internal

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/validation"
)

// DefaultHandleCacheTTL is how long a resolved handle is reused.
const DefaultHandleCacheTTL = 10 * time.Minute

// XRPCResolver resolves handles with com.atproto.identity.resolveHandle.
type XRPCResolver struct {
	client *Client
}

// NewXRPCResolver creates a resolver that queries the client's PDS.
func NewXRPCResolver(client *Client) *XRPCResolver {
	return &XRPCResolver{client: client}
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// ResolveHandle returns the DID registered for handle.
func (r *XRPCResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = validation.NormalizeHandle(handle)
	if !validation.IsValidHandle(handle) {
		return "", &pkgerrs.ConfigError{Field: "handle", Message: "invalid handle syntax: " + handle}
	}

	req, err := r.client.NewRequest(ctx, http.MethodGet, NSIDResolveHandle, url.Values{"handle": {handle}}, nil, nil)
	if err != nil {
		return "", err
	}

	var resp resolveHandleResponse
	if err := r.client.Do(req, &resp); err != nil {
		return "", err
	}
	if !validation.IsValidDID(resp.DID) {
		return "", &pkgerrs.ParseError{Operation: NSIDResolveHandle, Message: "response did is not a valid DID: " + resp.DID}
	}
	return resp.DID, nil
}

type handleCacheEntry struct {
	did       string
	expiresAt time.Time
}

// CachingResolver keeps successful resolutions for a fixed TTL. Failures are
// never cached.
type CachingResolver struct {
	next HandleResolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]handleCacheEntry
}

// NewCachingResolver wraps next. A zero ttl uses DefaultHandleCacheTTL; now
// may be nil.
func NewCachingResolver(next HandleResolver, ttl time.Duration, now func() time.Time) *CachingResolver {
	if ttl == 0 {
		ttl = DefaultHandleCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]handleCacheEntry),
	}
}

// ResolveHandle serves handle from the cache or asks the wrapped resolver.
func (c *CachingResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	key := strings.ToLower(handle)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.did, nil
	}

	did, err := c.next.ResolveHandle(ctx, handle)
	if err != nil {
		return "", err
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(now)
	c.entries[key] = handleCacheEntry{did: did, expiresAt: now.Add(c.ttl)}
	return did, nil
}

// evictLocked drops expired entries so the map only grows with live handles.
func (c *CachingResolver) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
