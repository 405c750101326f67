package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/enrollment-admission-api/pkg/errors"
)

type memoryCacheRepo struct {
	items         map[string][]byte
	getErr        error
	genErr        error
	generation    int64
	invalidations int
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memoryCacheRepo) Generation(context.Context) (int64, error) {
	return m.generation, m.genErr
}

func (m *memoryCacheRepo) Invalidate(context.Context) error {
	m.invalidations++
	m.generation++
	m.items = map[string][]byte{}
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, NewMetricsService(), 0, nil, true)

	var out []string
	assert.False(t, svc.Get(context.Background(), "k", &out))

	svc.Set(context.Background(), "k", []string{"a", "b"}, 0)
	require.True(t, svc.Get(context.Background(), "k", &out))
	assert.Equal(t, []string{"a", "b"}, out)

	svc.Invalidate(context.Background())
	assert.False(t, svc.Get(context.Background(), "k", &out))
	assert.Equal(t, 1, repo.invalidations)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)

	svc.Set(context.Background(), "k", 1, 0)
	svc.Invalidate(context.Background())
	assert.Empty(t, repo.items)
	assert.Zero(t, repo.invalidations)
}

func TestCacheServiceSwallowsBackendErrors(t *testing.T) {
	repo := newMemoryCacheRepo()
	repo.getErr = errors.New("connection refused")
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	var out int
	assert.False(t, svc.Get(context.Background(), "k", &out))
}

func TestCacheKeyIsStable(t *testing.T) {
	type q struct{ Page int }
	assert.Equal(t, cacheKey("history", q{Page: 1}), cacheKey("history", q{Page: 1}))
	assert.NotEqual(t, cacheKey("history", q{Page: 1}), cacheKey("history", q{Page: 2}))
}

func TestCacheServiceGeneration(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	gen, ok := svc.Generation(context.Background())
	require.True(t, ok)
	assert.Zero(t, gen)

	svc.Invalidate(context.Background())
	gen, ok = svc.Generation(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(1), gen)
	assert.NotEqual(t, generationPrefix("history", 0), generationPrefix("history", 1))

	repo.genErr = errors.New("connection refused")
	_, ok = svc.Generation(context.Background())
	assert.False(t, ok)

	_, ok = NewCacheService(repo, nil, time.Minute, nil, false).Generation(context.Background())
	assert.False(t, ok)
}
