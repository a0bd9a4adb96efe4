package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/roach88/fellowship/internal/domain"
)

// GroupCache is a read-through cache of group documents keyed by group id.
// Entries expire after the configured TTL; capacity bounds the number of
// groups kept in memory.
type GroupCache struct {
	store Store
	cache *ttlcache.Cache[string, *domain.Group]
}

// NewGroupCache creates a cache reading through to store. Start must be
// called to run expiry; Stop ends it.
func NewGroupCache(store Store, ttl time.Duration, capacity uint64) *GroupCache {
	cache := ttlcache.New[string, *domain.Group](
		ttlcache.WithTTL[string, *domain.Group](ttl),
		ttlcache.WithCapacity[string, *domain.Group](capacity),
	)
	cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *domain.Group]) {
		slog.Debug("group evicted from cache", "group", item.Key(), "reason", reason)
	})
	return &GroupCache{store: store, cache: cache}
}

// Start runs the expiry loop until Stop is called. It blocks.
func (c *GroupCache) Start() {
	c.cache.Start()
}

// Stop ends the expiry loop.
func (c *GroupCache) Stop() {
	c.cache.Stop()
}

// Get returns the group, loading it from the store on a miss. The
// returned group is a copy.
func (c *GroupCache) Get(ctx context.Context, id string) (*domain.Group, error) {
	if item := c.cache.Get(id); item != nil {
		return copyGroup(item.Value()), nil
	}
	doc, err := c.store.Get(ctx, GroupsCollection, id)
	if err != nil {
		return nil, err
	}
	g, err := DecodeGroup(doc)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, g, ttlcache.DefaultTTL)
	return copyGroup(g), nil
}

// Put stores a group observed elsewhere, such as from a live snapshot.
func (c *GroupCache) Put(g *domain.Group) {
	c.cache.Set(g.ID, copyGroup(g), ttlcache.DefaultTTL)
}

// Invalidate drops a group so the next Get reloads it.
func (c *GroupCache) Invalidate(id string) {
	c.cache.Delete(id)
}

// Len returns the number of cached groups.
func (c *GroupCache) Len() int {
	return c.cache.Len()
}

// DecodeGroup converts a group document.
func DecodeGroup(doc Document) (*domain.Group, error) {
	var g domain.Group
	if err := doc.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode group: %w", err)
	}
	if g.MemberIDs == nil {
		g.MemberIDs = []string{}
	}
	return &g, nil
}

func copyGroup(g *domain.Group) *domain.Group {
	out := *g
	out.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &out
}
