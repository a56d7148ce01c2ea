package allocator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/pkg/testhelper"
)

func newTestAllocator(lo, hi int) (*Allocator, *testhelper.MemoryAllocationRepository) {
	repo := testhelper.NewMemoryAllocationRepository()
	cfg := &config.Config{PriorityRangeLo: lo, PriorityRangeHi: hi}
	return New(repo, cfg, zap.NewNop()), repo
}

func TestAllocate_LowestFree(t *testing.T) {
	alloc, _ := newTestAllocator(1, 10)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	p1, err := alloc.Allocate(ctx, "preview-listener", "pr-1", "api", expires)
	assert.NoError(t, err)
	assert.Equal(t, 1, p1)

	p2, err := alloc.Allocate(ctx, "preview-listener", "pr-1", "web", expires)
	assert.NoError(t, err)
	assert.Equal(t, 2, p2)

	// Releasing the first slot makes it the next candidate again.
	assert.NoError(t, alloc.Release(ctx, "preview-listener", p1))
	p3, err := alloc.Allocate(ctx, "preview-listener", "pr-2", "api", expires)
	assert.NoError(t, err)
	assert.Equal(t, 1, p3)
}

func TestAllocate_DomainsAreIndependent(t *testing.T) {
	alloc, _ := newTestAllocator(1, 5)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	p1, err := alloc.Allocate(ctx, "listener-a", "pr-1", "api", expires)
	assert.NoError(t, err)
	p2, err := alloc.Allocate(ctx, "listener-b", "pr-1", "api", expires)
	assert.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestAllocate_Exhaustion(t *testing.T) {
	alloc, _ := newTestAllocator(1, 3)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		_, err := alloc.Allocate(ctx, "preview-listener", "pr-1", "svc", expires)
		assert.NoError(t, err)
	}

	_, err := alloc.Allocate(ctx, "preview-listener", "pr-2", "svc", expires)
	assert.True(t, errors.Is(err, ErrExhausted), "expected ErrExhausted, got %v", err)
}

func TestAllocate_ConcurrentUniqueness(t *testing.T) {
	const n = 10
	alloc, repo := newTestAllocator(1, n)
	expires := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = alloc.Allocate(context.Background(), "preview-listener", "pr-1", "svc", expires)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "priority %d allocated twice", results[i])
		seen[results[i]] = true
	}
	assert.Equal(t, n, repo.Count("preview-listener"))
}

func TestRelease_Idempotent(t *testing.T) {
	alloc, repo := newTestAllocator(1, 5)
	ctx := context.Background()

	p, err := alloc.Allocate(ctx, "preview-listener", "pr-1", "api", time.Now().Add(time.Hour))
	assert.NoError(t, err)

	assert.NoError(t, alloc.Release(ctx, "preview-listener", p))
	assert.NoError(t, alloc.Release(ctx, "preview-listener", p))
	assert.Equal(t, 0, repo.Count("preview-listener"))
}
