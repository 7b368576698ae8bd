package cors

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/repository"
)

// Local development origins unioned into the cache outside production.
var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:5173",
	"http://localhost:4200",
	"http://127.0.0.1:3000",
}

type originSet struct {
	members     map[string]struct{}
	refreshedAt time.Time
}

// Cache answers origin allow/deny decisions in O(1) from an in-memory set
// mirrored from the origin repository. Refresh builds a complete new set
// and swaps it in atomically: readers observe either the old or the new
// set, never a partially populated one.
type Cache struct {
	repo        repository.OriginRepository
	node        *snowflake.Node
	logger      *zap.Logger
	development bool

	current atomic.Pointer[originSet]
}

// Stats is an observability snapshot of the cache.
type Stats struct {
	TotalOrigins int       `json:"totalOrigins"`
	LastRefresh  time.Time `json:"lastRefresh"`
	Origins      []string  `json:"origins"`
}

// NewCache builds an empty cache. Callers perform the boot-time Refresh
// explicitly (wired as a start hook).
func NewCache(repo repository.OriginRepository, node *snowflake.Node, logger *zap.Logger, development bool) *Cache {
	c := &Cache{repo: repo, node: node, logger: logger, development: development}
	c.current.Store(&originSet{members: map[string]struct{}{}})
	return c
}

// IsAllowed reports whether the declared origin may receive a cross-origin
// response. An absent origin (non-browser client) is deliberately allowed.
func (c *Cache) IsAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	set := c.current.Load()
	_, ok := set.members[origin]
	return ok
}

// Refresh fully rebuilds the set from the store. Full replace rather than
// incremental merge, so a deactivated origin cannot survive in the cache.
func (c *Cache) Refresh(ctx context.Context) error {
	origins, err := c.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("refresh origin cache: %w", err)
	}

	next := &originSet{
		members:     make(map[string]struct{}, len(origins)+len(devOrigins)),
		refreshedAt: time.Now().UTC(),
	}
	for _, o := range origins {
		next.members[o.URL] = struct{}{}
	}
	if c.development {
		for _, o := range devOrigins {
			next.members[o] = struct{}{}
		}
	}

	c.current.Store(next)
	c.logger.Info("origin cache refreshed", zap.Int("origins", len(next.members)))
	return nil
}

// Stats returns cache size, last refresh time and the current origin list.
func (c *Cache) Stats() Stats {
	set := c.current.Load()
	origins := make([]string, 0, len(set.members))
	for o := range set.members {
		origins = append(origins, o)
	}
	return Stats{
		TotalOrigins: len(set.members),
		LastRefresh:  set.refreshedAt,
		Origins:      origins,
	}
}

// ListOrigins returns every origin record, including inactive ones.
func (c *Cache) ListOrigins(ctx context.Context) ([]domain.AllowedOrigin, error) {
	return c.repo.List(ctx)
}

// GetOrigin returns one origin record by ID.
func (c *Cache) GetOrigin(ctx context.Context, id int64) (domain.AllowedOrigin, error) {
	return c.repo.GetByID(ctx, id)
}

// AddOrigin persists a new origin and refreshes the cache before
// returning, so the caller never observes a stale decision.
func (c *Cache) AddOrigin(ctx context.Context, url, description string) (domain.AllowedOrigin, error) {
	created, err := c.repo.Create(ctx, domain.AllowedOrigin{
		ID:          c.node.Generate().Int64(),
		URL:         url,
		Description: description,
		IsActive:    true,
	})
	if err != nil {
		return domain.AllowedOrigin{}, err
	}
	if err := c.Refresh(ctx); err != nil {
		return domain.AllowedOrigin{}, err
	}
	return created, nil
}

// UpdateOrigin applies field changes to an existing origin and refreshes.
func (c *Cache) UpdateOrigin(ctx context.Context, id int64, url, description *string, isActive *bool) (domain.AllowedOrigin, error) {
	origin, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return domain.AllowedOrigin{}, err
	}
	if url != nil {
		origin.URL = *url
	}
	if description != nil {
		origin.Description = *description
	}
	if isActive != nil {
		origin.IsActive = *isActive
	}

	updated, err := c.repo.Update(ctx, origin)
	if err != nil {
		return domain.AllowedOrigin{}, err
	}
	if err := c.Refresh(ctx); err != nil {
		return domain.AllowedOrigin{}, err
	}
	return updated, nil
}

// DeleteOrigin removes an origin permanently and refreshes.
func (c *Cache) DeleteOrigin(ctx context.Context, id int64) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// ToggleOrigin flips the active flag and refreshes.
func (c *Cache) ToggleOrigin(ctx context.Context, id int64) (domain.AllowedOrigin, error) {
	origin, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return domain.AllowedOrigin{}, err
	}
	updated, err := c.repo.SetActive(ctx, id, !origin.IsActive)
	if err != nil {
		return domain.AllowedOrigin{}, err
	}
	if err := c.Refresh(ctx); err != nil {
		return domain.AllowedOrigin{}, err
	}
	return updated, nil
}
