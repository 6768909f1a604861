package ledger

import (
	"context"
	"sync"
)

// Cache wraps a backend ledger with an in-memory membership set so Contains
// does not round-trip to durable storage on every file. The backend remains
// the sole source of truth: the cache is read-through, warmed per project
// with Warm, and updated only after the backend accepts a Record.
type Cache struct {
	backend Ledger

	mu    sync.RWMutex
	known map[string]map[string]struct{} // projectID -> fingerprint set
}

func NewCache(backend Ledger) *Cache {
	return &Cache{
		backend: backend,
		known:   make(map[string]map[string]struct{}),
	}
}

// Warm loads the fingerprint set for a project from the backend, replacing
// any previously cached set.
func (c *Cache) Warm(ctx context.Context, projectID string) error {
	fps, err := c.backend.Load(ctx, projectID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.known[projectID] = fps
	c.mu.Unlock()
	return nil
}

func (c *Cache) Contains(ctx context.Context, projectID, fp string) (bool, error) {
	c.mu.RLock()
	fps, warmed := c.known[projectID]
	if warmed {
		_, ok := fps[fp]
		c.mu.RUnlock()
		if ok {
			return true, nil
		}
		// A cache miss in a warmed project is authoritative for entries
		// recorded through this process; entries written by other processes
		// only resolve as a harmless duplicate upload.
		return false, nil
	}
	c.mu.RUnlock()

	return c.backend.Contains(ctx, projectID, fp)
}

func (c *Cache) Record(ctx context.Context, projectID, fp, sourcePath string) error {
	if err := c.backend.Record(ctx, projectID, fp, sourcePath); err != nil {
		return err
	}

	c.mu.Lock()
	if fps, ok := c.known[projectID]; ok {
		fps[fp] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Load(ctx context.Context, projectID string) (map[string]struct{}, error) {
	return c.backend.Load(ctx, projectID)
}

func (c *Cache) Close() error {
	return c.backend.Close()
}
