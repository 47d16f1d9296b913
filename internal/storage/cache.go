package storage

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// CompletionCache reuses stored completions for identical (agent, version,
// input) cells per the caller's cache policy, and collapses concurrent
// identical cacheable runs into one upstream call.
type CompletionCache struct {
	store CompletionStore
	group singleflight.Group
}

// NewCompletionCache builds a cache over the completion store.
func NewCompletionCache(store CompletionStore) *CompletionCache {
	return &CompletionCache{store: store}
}

// Usable reports whether a stored completion may serve a run under the
// policy. "auto" reuses only deterministic runs: temperature zero and no
// tools, since tool results can change between runs.
func Usable(policy domain.CachePolicy, temperature float64, hasTools bool) bool {
	switch policy {
	case domain.CacheAlways:
		return true
	case domain.CacheNever:
		return false
	default:
		return temperature == 0 && !hasTools
	}
}

// Run returns a cached completion for the cell when the policy allows,
// otherwise executes run. Concurrent cacheable calls for the same cell share
// one execution.
func (c *CompletionCache) Run(ctx context.Context, agentID, versionID, inputID string, policy domain.CachePolicy, temperature float64, hasTools bool, run func(ctx context.Context) (*domain.Completion, error)) (*domain.Completion, error) {
	if !Usable(policy, temperature, hasTools) {
		return run(ctx)
	}
	key := agentID + "\x00" + versionID + "\x00" + inputID
	v, err, _ := c.group.Do(key, func() (any, error) {
		if hit, err := c.store.FindCached(ctx, agentID, versionID, inputID); err == nil {
			return hit, nil
		}
		return run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Completion), nil
}
