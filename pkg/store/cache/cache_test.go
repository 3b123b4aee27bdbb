package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agentgate/gatekeeper/pkg/policy"
)

type countingLister struct {
	calls   int64
	results []policy.Policy
}

func (l *countingLister) ListEnabledPolicies(ctx context.Context, tenantID, workspaceID, environment string) ([]policy.Policy, error) {
	atomic.AddInt64(&l.calls, 1)
	return l.results, nil
}

func newTestCache(t *testing.T, source policy.PolicyLister) *CachedPolicyLister {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, source)
}

func TestListEnabledPolicies_CachesBetweenCalls(t *testing.T) {
	source := &countingLister{results: []policy.Policy{{TenantID: "t1", PolicyID: "p1"}}}
	c := newTestCache(t, source)

	ctx := context.Background()
	first, err := c.ListEnabledPolicies(ctx, "t1", "", "")
	if err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	second, err := c.ListEnabledPolicies(ctx, "t1", "", "")
	if err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 policy in both results, got %d and %d", len(first), len(second))
	}
	if atomic.LoadInt64(&source.calls) != 1 {
		t.Errorf("source.calls = %d, want 1 (second call should hit cache)", source.calls)
	}
}

func TestListEnabledPolicies_RefetchesAfterTTL(t *testing.T) {
	source := &countingLister{results: []policy.Policy{{TenantID: "t1", PolicyID: "p1"}}}
	c := newTestCache(t, source).WithTTL(10 * time.Millisecond)

	ctx := context.Background()
	if _, err := c.ListEnabledPolicies(ctx, "t1", "", ""); err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := c.ListEnabledPolicies(ctx, "t1", "", ""); err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	if atomic.LoadInt64(&source.calls) != 2 {
		t.Errorf("source.calls = %d, want 2 (cache entry should have expired)", source.calls)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	source := &countingLister{results: []policy.Policy{{TenantID: "t1", PolicyID: "p1"}}}
	c := newTestCache(t, source)

	ctx := context.Background()
	if _, err := c.ListEnabledPolicies(ctx, "t1", "ws1", ""); err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	if err := c.Invalidate(ctx, "t1", "ws1", ""); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.ListEnabledPolicies(ctx, "t1", "ws1", ""); err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	if atomic.LoadInt64(&source.calls) != 2 {
		t.Errorf("source.calls = %d, want 2 (invalidate should force a refetch)", source.calls)
	}
}

func TestListEnabledPolicies_DifferentScopesCacheSeparately(t *testing.T) {
	source := &countingLister{results: []policy.Policy{{TenantID: "t1", PolicyID: "p1"}}}
	c := newTestCache(t, source)

	ctx := context.Background()
	if _, err := c.ListEnabledPolicies(ctx, "t1", "ws1", ""); err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	if _, err := c.ListEnabledPolicies(ctx, "t1", "ws2", ""); err != nil {
		t.Fatalf("ListEnabledPolicies() error = %v", err)
	}
	if atomic.LoadInt64(&source.calls) != 2 {
		t.Errorf("source.calls = %d, want 2 (distinct workspace scopes shouldn't share a cache entry)", source.calls)
	}
}
