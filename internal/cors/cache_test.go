package cors_test

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/cors"
	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/repository"
)

func newTestCache(t *testing.T, development bool) (*cors.Cache, *memoryOriginRepo) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := &memoryOriginRepo{origins: map[int64]domain.AllowedOrigin{}}
	return cors.NewCache(repo, node, zap.NewNop(), development), repo
}

func TestEmptyOriginIsAlwaysAllowed(t *testing.T) {
	cache, _ := newTestCache(t, false)
	require.True(t, cache.IsAllowed(""))
}

func TestRefreshReplacesSetAtomically(t *testing.T) {
	ctx := context.Background()
	cache, repo := newTestCache(t, false)

	repo.seed(domain.AllowedOrigin{ID: 1, URL: "https://app.example.com", IsActive: true})
	repo.seed(domain.AllowedOrigin{ID: 2, URL: "https://old.example.com", IsActive: true})
	require.NoError(t, cache.Refresh(ctx))
	require.True(t, cache.IsAllowed("https://app.example.com"))
	require.True(t, cache.IsAllowed("https://old.example.com"))

	// Deactivating in the store then refreshing must fully replace the
	// set, not merge into it.
	repo.setActive(2, false)
	require.NoError(t, cache.Refresh(ctx))
	require.True(t, cache.IsAllowed("https://app.example.com"))
	require.False(t, cache.IsAllowed("https://old.example.com"))
}

func TestDevOriginsOnlyOutsideProduction(t *testing.T) {
	ctx := context.Background()

	dev, _ := newTestCache(t, true)
	require.NoError(t, dev.Refresh(ctx))
	require.True(t, dev.IsAllowed("http://localhost:5173"))

	prod, _ := newTestCache(t, false)
	require.NoError(t, prod.Refresh(ctx))
	require.False(t, prod.IsAllowed("http://localhost:5173"))
}

func TestMutationsAreVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, false)
	require.NoError(t, cache.Refresh(ctx))

	created, err := cache.AddOrigin(ctx, "https://new.example.com", "frontend")
	require.NoError(t, err)
	require.True(t, cache.IsAllowed("https://new.example.com"))

	toggled, err := cache.ToggleOrigin(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, toggled.IsActive)
	require.False(t, cache.IsAllowed("https://new.example.com"))

	toggled, err = cache.ToggleOrigin(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, toggled.IsActive)
	require.True(t, cache.IsAllowed("https://new.example.com"))

	newURL := "https://renamed.example.com"
	_, err = cache.UpdateOrigin(ctx, created.ID, &newURL, nil, nil)
	require.NoError(t, err)
	require.True(t, cache.IsAllowed("https://renamed.example.com"))
	require.False(t, cache.IsAllowed("https://new.example.com"))

	require.NoError(t, cache.DeleteOrigin(ctx, created.ID))
	require.False(t, cache.IsAllowed("https://renamed.example.com"))
}

func TestStatsReflectCurrentSet(t *testing.T) {
	ctx := context.Background()
	cache, repo := newTestCache(t, false)

	repo.seed(domain.AllowedOrigin{ID: 1, URL: "https://app.example.com", IsActive: true})
	require.NoError(t, cache.Refresh(ctx))

	stats := cache.Stats()
	require.Equal(t, 1, stats.TotalOrigins)
	require.False(t, stats.LastRefresh.IsZero())
	require.Contains(t, stats.Origins, "https://app.example.com")
}

func TestConcurrentReadsDuringRefresh(t *testing.T) {
	ctx := context.Background()
	cache, repo := newTestCache(t, false)
	repo.seed(domain.AllowedOrigin{ID: 1, URL: "https://app.example.com", IsActive: true})
	require.NoError(t, cache.Refresh(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if !cache.IsAllowed("https://app.example.com") {
					t.Error("origin vanished during refresh")
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, cache.Refresh(ctx))
	}
	wg.Wait()
}

type memoryOriginRepo struct {
	mu      sync.Mutex
	origins map[int64]domain.AllowedOrigin
}

func (m *memoryOriginRepo) seed(o domain.AllowedOrigin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.origins[o.ID] = o
}

func (m *memoryOriginRepo) setActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.origins[id]
	o.IsActive = active
	m.origins[id] = o
}

func (m *memoryOriginRepo) ListActive(ctx context.Context) ([]domain.AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AllowedOrigin
	for _, o := range m.origins {
		if o.IsActive {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memoryOriginRepo) List(ctx context.Context) ([]domain.AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AllowedOrigin
	for _, o := range m.origins {
		out = append(out, o)
	}
	return out, nil
}

func (m *memoryOriginRepo) GetByID(ctx context.Context, id int64) (domain.AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.origins[id]
	if !ok {
		return domain.AllowedOrigin{}, repository.ErrNotFound
	}
	return o, nil
}

func (m *memoryOriginRepo) Create(ctx context.Context, origin domain.AllowedOrigin) (domain.AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.origins {
		if o.URL == origin.URL {
			return domain.AllowedOrigin{}, repository.ErrDuplicate
		}
	}
	m.origins[origin.ID] = origin
	return origin, nil
}

func (m *memoryOriginRepo) Update(ctx context.Context, origin domain.AllowedOrigin) (domain.AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.origins[origin.ID]; !ok {
		return domain.AllowedOrigin{}, repository.ErrNotFound
	}
	m.origins[origin.ID] = origin
	return origin, nil
}

func (m *memoryOriginRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.origins[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.origins, id)
	return nil
}

func (m *memoryOriginRepo) SetActive(ctx context.Context, id int64, active bool) (domain.AllowedOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.origins[id]
	if !ok {
		return domain.AllowedOrigin{}, repository.ErrNotFound
	}
	o.IsActive = active
	m.origins[id] = o
	return o, nil
}

var _ repository.OriginRepository = (*memoryOriginRepo)(nil)
