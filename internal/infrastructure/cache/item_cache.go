// Package cache provides the Redis client, Redis-backed leases and an
// in-process catalog item cache invalidated by PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/catalog"
	"lotledger/pkg/logger"
)

// ItemsChangedChannel is the NOTIFY channel raised by the catalog_items trigger.
// The payload is the item id, or empty to flush everything.
const ItemsChangedChannel = "catalog_items_changed"

type cachedItem struct {
	item     catalog.Item
	loadedAt time.Time
}

// ItemCache caches catalog item lookups by id. Entries are dropped on NOTIFY
// and also age out after ttl in case a notification is missed.
type ItemCache struct {
	next catalog.ItemRepository
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[id.ID]cachedItem

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

var _ catalog.ItemRepository = (*ItemCache)(nil)

// NewItemCache wraps next. pool may be nil, in which case only the TTL applies.
func NewItemCache(next catalog.ItemRepository, pool *pgxpool.Pool, ttl time.Duration) *ItemCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ItemCache{
		next:  next,
		pool:  pool,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[id.ID]cachedItem),
	}
}

func (c *ItemCache) GetByID(ctx context.Context, itemID id.ID) (*catalog.Item, error) {
	c.mu.RLock()
	ci, ok := c.items[itemID]
	c.mu.RUnlock()
	if ok && c.now().Sub(ci.loadedAt) < c.ttl {
		it := ci.item
		return &it, nil
	}

	it, err := c.next.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	c.store(it)
	return it, nil
}

func (c *ItemCache) GetByCode(ctx context.Context, code string) (*catalog.Item, error) {
	return c.next.GetByCode(ctx, code)
}

func (c *ItemCache) Create(ctx context.Context, item *catalog.Item) error {
	if err := c.next.Create(ctx, item); err != nil {
		return err
	}
	c.store(item)
	return nil
}

func (c *ItemCache) store(it *catalog.Item) {
	c.mu.Lock()
	c.items[it.ID] = cachedItem{item: *it, loadedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops one item, or all items when payload is not an id.
func (c *ItemCache) Invalidate(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemID, err := id.Parse(strings.TrimSpace(payload))
	if err != nil {
		c.items = make(map[id.ID]cachedItem)
		return
	}
	delete(c.items, itemID)
}

// Len returns the number of cached items.
func (c *ItemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Start begins listening for invalidations. It is a no-op without a pool.
func (c *ItemCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.listenLoop(ctx)
	logger.Info(ctx, "item cache started")
}

// Stop ends the listener and waits for it.
func (c *ItemCache) Stop() {
	c.lifecycleMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *ItemCache) listenLoop(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		conn, err := c.pool.Acquire(ctx)
		if err != nil {
			logger.Error(ctx, "failed to acquire connection for LISTEN", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+ItemsChangedChannel); err != nil {
			logger.Error(ctx, "failed to LISTEN", "channel", ItemsChangedChannel, "error", err)
			conn.Release()
			sleep(ctx, time.Second)
			continue
		}

		// the connection was down, anything may have changed meanwhile
		c.Invalidate("")
		c.waitForNotifications(ctx, conn)
		conn.Release()
	}
}

func (c *ItemCache) waitForNotifications(ctx context.Context, conn *pgxpool.Conn) {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "LISTEN connection lost", "error", err)
			}
			return
		}
		logger.Debug(ctx, "catalog item changed", "payload", n.Payload)
		c.Invalidate(n.Payload)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
