package location

import (
	"context"
	"sync"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
)

// PositionCache holds the latest device report and permission state per user.
type PositionCache interface {
	Put(ctx context.Context, ownerID string, pos domain.Position) error
	Latest(ctx context.Context, ownerID string) (domain.Position, bool, error)
	SetPermission(ctx context.Context, ownerID string, granted bool) error
	// Permission returns known=false when the device never reported a state.
	Permission(ctx context.Context, ownerID string) (granted bool, known bool, err error)
}

type cachedPosition struct {
	pos      domain.Position
	storedAt time.Time
}

type InMemoryPositionCache struct {
	mu          sync.RWMutex
	ttl         time.Duration
	now         func() time.Time
	positions   map[string]cachedPosition
	permissions map[string]bool
}

func NewInMemoryPositionCache(ttl time.Duration) *InMemoryPositionCache {
	return &InMemoryPositionCache{
		ttl:         ttl,
		now:         time.Now,
		positions:   make(map[string]cachedPosition),
		permissions: make(map[string]bool),
	}
}

func (c *InMemoryPositionCache) Put(_ context.Context, ownerID string, pos domain.Position) error {
	c.mu.Lock()
	c.positions[ownerID] = cachedPosition{pos: pos, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *InMemoryPositionCache) Latest(_ context.Context, ownerID string) (domain.Position, bool, error) {
	c.mu.RLock()
	entry, ok := c.positions[ownerID]
	c.mu.RUnlock()
	if !ok {
		return domain.Position{}, false, nil
	}
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.positions[ownerID]; ok && cur.storedAt.Equal(entry.storedAt) {
			delete(c.positions, ownerID)
		}
		c.mu.Unlock()
		return domain.Position{}, false, nil
	}
	return entry.pos, true, nil
}

func (c *InMemoryPositionCache) SetPermission(_ context.Context, ownerID string, granted bool) error {
	c.mu.Lock()
	c.permissions[ownerID] = granted
	c.mu.Unlock()
	return nil
}

func (c *InMemoryPositionCache) Permission(_ context.Context, ownerID string) (bool, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	granted, ok := c.permissions[ownerID]
	return granted, ok, nil
}
