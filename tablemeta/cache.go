package tablemeta

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/INLOpen/atundo/cache"
	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/hooks"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of tables a Cache keeps when none is configured.
const DefaultCapacity = 1024

// DefaultLoadTimeout bounds a shared load when Options.LoadTimeout is unset.
const DefaultLoadTimeout = 10 * time.Second

// Cache resolves table meta through a Loader, keeping the most recently used
// tables of one resource database.
//
// With Options.Executor set, concurrent misses on the same table share a single
// load that runs on that executor, detached from every caller's context and
// bounded by LoadTimeout. Each caller waits on its own context only. Without an
// executor every miss loads on the caller's own executor and context.
type Cache struct {
	loader      Loader
	resourceID  string
	ex          core.Executor
	loadTimeout time.Duration
	lru         *cache.LRUCache[*core.TableMeta]
	group       singleflight.Group
	hooks       hooks.HookManager
	logger      *slog.Logger
}

// Options configures a Cache.
type Options struct {
	// ResourceID prefixes cache keys, usually the database name.
	ResourceID string
	Capacity   int
	// Executor runs shared loads, usually the *sql.DB pool of the resource
	// database. It must not be a caller's transaction.
	Executor    core.Executor
	LoadTimeout time.Duration
	HookManager hooks.HookManager
	Logger      *slog.Logger
}

// NewCache creates a cache in front of loader.
func NewCache(loader Loader, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	c := &Cache{
		loader:      loader,
		resourceID:  opts.ResourceID,
		ex:          opts.Executor,
		loadTimeout: loadTimeout,
		hooks:       opts.HookManager,
		logger:      logger.With("component", "TableMetaCache", "resource_id", opts.ResourceID),
	}
	c.lru = cache.NewLRUCache[*core.TableMeta](capacity, func(key string, _ *core.TableMeta) {
		c.logger.Debug("Table meta evicted", "key", key)
	}, nil, nil)
	return c
}

// TableMeta returns the meta of tableName, loading it when absent.
// The returned value is shared and must not be modified.
func (c *Cache) TableMeta(ctx context.Context, ex core.Executor, tableName string) (*core.TableMeta, error) {
	if tableName == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}
	key := c.key(tableName)
	if meta, ok := c.lru.Get(key); ok {
		_ = hooks.Trigger(ctx, c.hooks, hooks.NewOnTableMetaCacheHitEvent(c.payload(key)))
		return meta, nil
	}
	_ = hooks.Trigger(ctx, c.hooks, hooks.NewOnTableMetaCacheMissEvent(c.payload(key)))

	if c.ex == nil {
		meta, err := c.loader.Load(ctx, ex, tableName)
		if err != nil {
			return nil, fmt.Errorf("resolve table meta of %s: %w", tableName, err)
		}
		c.lru.Put(key, meta)
		return meta, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if meta, ok := c.lru.Get(key); ok {
			return meta, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		meta, err := c.loader.Load(loadCtx, c.ex, tableName)
		if err != nil {
			return nil, err
		}
		c.lru.Put(key, meta)
		return meta, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("resolve table meta of %s: %w", tableName, res.Err)
		}
		if res.Shared {
			c.logger.Debug("Table meta load shared", "key", key)
		}
		return res.Val.(*core.TableMeta), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("resolve table meta of %s: %w", tableName, ctx.Err())
	}
}

// Invalidate drops tableName so the next lookup reloads it.
func (c *Cache) Invalidate(tableName string) {
	c.lru.Remove(c.key(tableName))
}

// Len returns the number of cached tables.
func (c *Cache) Len() int { return c.lru.Len() }

// HitRate returns the lookup hit rate since creation.
func (c *Cache) HitRate() float64 { return c.lru.GetHitRate() }

func (c *Cache) payload(key string) hooks.TableMetaCachePayload {
	return hooks.TableMetaCachePayload{Key: key, Size: c.Len(), HitRate: c.HitRate()}
}

func (c *Cache) key(tableName string) string {
	name := strings.ToLower(strings.ReplaceAll(tableName, "`", ""))
	if c.resourceID == "" {
		return name
	}
	return c.resourceID + "." + name
}
