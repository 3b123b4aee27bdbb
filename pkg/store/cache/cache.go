// Package cache wraps a pkg/policy.PolicyLister with a short-TTL read-through
// Redis cache so the decision engine's hot path doesn't round-trip Postgres
// on every request, per spec §5's latency budget for the policy-lookup step.
// Concurrent cache misses for the same key are coalesced with
// golang.org/x/sync/singleflight so a cache stampede doesn't fan out into N
// identical database queries.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/agentgate/gatekeeper/pkg/policy"
	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
)

// DefaultTTL is the cache entry lifetime. Spec §4.2 bounds policy staleness
// at roughly one second so an operator disabling a policy is reflected
// within a human-perceptible window.
const DefaultTTL = 1 * time.Second

// CachedPolicyLister is a policy.PolicyLister backed by source, with entries
// cached in Redis under a per-(tenant,workspace,environment) key.
type CachedPolicyLister struct {
	client *redis.Client
	source policy.PolicyLister
	ttl    time.Duration
	group  singleflight.Group
}

func New(client *redis.Client, source policy.PolicyLister) *CachedPolicyLister {
	return &CachedPolicyLister{client: client, source: source, ttl: DefaultTTL}
}

func (c *CachedPolicyLister) WithTTL(ttl time.Duration) *CachedPolicyLister {
	c.ttl = ttl
	return c
}

func cacheKey(tenantID, workspaceID, environment string) string {
	return "gatekeeper:policies:" + tenantID + ":" + workspaceID + ":" + environment
}

// ListEnabledPolicies satisfies policy.PolicyLister. On a cache hit it
// decodes and returns the cached list; on a miss it coalesces concurrent
// callers via singleflight, queries source, and repopulates the cache.
func (c *CachedPolicyLister) ListEnabledPolicies(ctx context.Context, tenantID, workspaceID, environment string) ([]policy.Policy, error) {
	key := cacheKey(tenantID, workspaceID, environment)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var policies []policy.Policy
		if jsonErr := json.Unmarshal(raw, &policies); jsonErr == nil {
			return policies, nil
		}
		// corrupt cache entry: fall through and refetch from source.
	} else if err != redis.Nil {
		// Redis unavailable: degrade to the source directly rather than fail closed on a cache outage.
		return c.source.ListEnabledPolicies(ctx, tenantID, workspaceID, environment)
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		policies, err := c.source.ListEnabledPolicies(ctx, tenantID, workspaceID, environment)
		if err != nil {
			return nil, err
		}
		if raw, marshalErr := json.Marshal(policies); marshalErr == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return policies, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]policy.Policy), nil
}

// Invalidate drops the cached entry for one (tenant, workspace, environment)
// tuple, so the next read refetches from source instead of waiting out the
// TTL. No policy write path in this repository calls it.
func (c *CachedPolicyLister) Invalidate(ctx context.Context, tenantID, workspaceID, environment string) error {
	if err := c.client.Del(ctx, cacheKey(tenantID, workspaceID, environment)).Err(); err != nil {
		return sharederrors.NetworkError("invalidate policy cache entry", "redis", err)
	}
	return nil
}

// InvalidateTenant drops every cached entry for a tenant across all
// workspace/environment scopes, found by scanning for the tenant's key
// prefix. No policy write path in this repository calls it.
func (c *CachedPolicyLister) InvalidateTenant(ctx context.Context, tenantID string) error {
	pattern := "gatekeeper:policies:" + tenantID + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return sharederrors.NetworkError("scan policy cache keys", "redis", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return sharederrors.NetworkError("invalidate tenant policy cache entries", "redis", err)
	}
	return nil
}
